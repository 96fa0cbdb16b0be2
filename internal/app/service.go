package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"telar/api/internal/archive"
	"telar/api/internal/backend"
	"telar/api/internal/config"
	"telar/api/internal/connectivity"
	"telar/api/internal/export"
	"telar/api/internal/gate"
	"telar/api/internal/record"
	"telar/api/internal/view"
	"telar/api/internal/vocab"
)

// Service wires the sync core together and is the single entry point the
// HTTP layer talks to. Submission validation (enum membership, numeric
// ranges) happens here, before anything reaches the record store.
type Service struct {
	cfg      config.Config
	backend  backend.Backend
	records  *record.Store
	registry *vocab.Registry
	monitor  *connectivity.Monitor
	archive  *archive.Store // nil when archiving is not configured
	gate     *gate.Gate

	probeStop   func()
	monitorStop func()
}

// New builds the service graph: registry and store wired to the same
// backend, the registry as the store's vocabulary sink and the store as the
// registry's rename rewriter.
func New(cfg config.Config, b backend.Backend, arc *archive.Store) *Service {
	registry := vocab.NewRegistry(b)
	records := record.NewStore(b, registry)
	registry.SetRecords(records)

	return &Service{
		cfg:      cfg,
		backend:  b,
		records:  records,
		registry: registry,
		monitor:  connectivity.NewMonitor(),
		archive:  arc,
		gate:     gate.New(cfg.GatePasswordHash),
	}
}

// Start opens the backend subscriptions and the reachability probe.
// Listener lifecycle is explicit: nothing subscribes at package init.
func (s *Service) Start() {
	s.registry.Start()
	s.records.Start()

	s.monitorStop = s.records.Subscribe(nil, func(msg string) {
		s.monitor.SetBackendError(msg)
		if msg != "" {
			log.Printf("record: subscription error: %s", msg)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.probeStop = cancel
	go s.probe(ctx)
}

// Stop tears everything down. Safe to call more than once.
func (s *Service) Stop() {
	if s.probeStop != nil {
		s.probeStop()
	}
	if s.monitorStop != nil {
		s.monitorStop()
	}
	s.records.Stop()
	s.registry.Stop()
}

// probe periodically pings the backend and feeds the connectivity monitor.
func (s *Service) probe(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.backend.Ping(pingCtx)
			cancel()
			s.monitor.SetNetworkReachable(err == nil)
		}
	}
}

// Ping probes the backend once.
func (s *Service) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Connectivity returns the current process-wide connection state.
func (s *Service) Connectivity() connectivity.State {
	return s.monitor.State()
}

// RecordInput is a record submission. ID empty means create; ID set means
// full replace of that record.
type RecordInput struct {
	ID             string       `json:"id,omitempty"`
	CreatedAt      time.Time    `json:"createdAt,omitempty"`
	Date           string       `json:"date"`
	Machine        string       `json:"machine"`
	Shift          record.Shift `json:"shift"`
	Boss           string       `json:"boss"`
	Operator       string       `json:"operator,omitempty"`
	Meters         int          `json:"meters"`
	Changes        int          `json:"changes"`
	ChangesComment string       `json:"changesComment,omitempty"`
}

func validateInput(in RecordInput) *DomainError {
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD", in.Date)
	}
	if !record.ValidMachine(in.Machine) {
		return domainError(http.StatusBadRequest, "INVALID_MACHINE", "unknown machine", in.Machine)
	}
	if !record.ValidShift(in.Shift) {
		return domainError(http.StatusBadRequest, "INVALID_SHIFT", "unknown shift", in.Shift)
	}
	if !record.ValidBoss(in.Boss) {
		return domainError(http.StatusBadRequest, "INVALID_BOSS", "unknown boss", in.Boss)
	}
	if in.Meters < 0 {
		return domainError(http.StatusBadRequest, "INVALID_METERS", "meters must be non-negative", in.Meters)
	}
	if in.Changes < 0 {
		return domainError(http.StatusBadRequest, "INVALID_CHANGES", "changes must be non-negative", in.Changes)
	}
	return nil
}

// SaveRecord validates a submission and upserts it.
func (s *Service) SaveRecord(ctx context.Context, in RecordInput) (record.Record, error) {
	if derr := validateInput(in); derr != nil {
		return record.Record{}, derr
	}
	saved, err := s.records.Save(ctx, record.Record{
		ID:             in.ID,
		CreatedAt:      in.CreatedAt,
		Date:           in.Date,
		Machine:        in.Machine,
		Shift:          in.Shift,
		Boss:           in.Boss,
		Operator:       in.Operator,
		Meters:         in.Meters,
		Changes:        in.Changes,
		ChangesComment: in.ChangesComment,
	})
	if err != nil {
		return record.Record{}, fromBackend(err)
	}
	return saved, nil
}

// DeleteRecord removes one record; absent identifiers succeed silently.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	if err := s.records.DeleteOne(ctx, id); err != nil {
		return fromBackend(err)
	}
	return nil
}

// ClearAll wipes the record collection. The destructive-action policy runs
// first: the gate password when configured, then the snapshot archive when
// configured. A failed snapshot aborts the wipe; data is never deleted
// without the configured pre-delete export.
func (s *Service) ClearAll(ctx context.Context, password string) error {
	if err := s.gate.Check(password); err != nil {
		return domainError(http.StatusForbidden, "GATE_REJECTED", "wrong password for destructive action", nil)
	}

	if s.archive != nil {
		result, err := export.Export(s.records.Snapshot(), export.FormatCSV, "telar-records")
		if err != nil {
			return domainError(http.StatusInternalServerError, "SNAPSHOT_FAILED", err.Error(), nil)
		}
		name, err := s.archive.Snapshot(ctx, result)
		if err != nil {
			return domainError(http.StatusBadGateway, "ARCHIVE_FAILED", err.Error(), nil)
		}
		log.Printf("app: archived pre-clear snapshot %s", name)
	}

	if err := s.records.ClearAll(ctx); err != nil {
		return fromBackend(err)
	}
	return nil
}

// RecordsPage is the projection envelope for the list view.
type RecordsPage struct {
	Records   []record.Record `json:"records"`
	Total     int             `json:"total"`
	Page      int             `json:"page"`
	PageCount int             `json:"pageCount"`
}

// ListRecords filters and paginates the current cache snapshot.
func (s *Service) ListRecords(f view.FilterState, page int) RecordsPage {
	filtered := view.Filter(s.records.Snapshot(), f)
	size := s.cfg.PageSize
	count := view.PageCount(len(filtered), size)
	if page < 1 {
		page = 1
	}
	if page > count {
		page = count
	}
	return RecordsPage{
		Records:   view.Page(filtered, page, size),
		Total:     len(filtered),
		Page:      page,
		PageCount: count,
	}
}

// Stats aggregates the filtered snapshot.
func (s *Service) Stats(f view.FilterState) view.Summary {
	filtered := view.Filter(s.records.Snapshot(), f)
	return view.Aggregate(filtered, s.registry.Merged(vocab.KindComments), view.TopN)
}

// Vocabulary returns both merged lists.
func (s *Service) Vocabulary() (comments, operators []string) {
	return s.registry.Merged(vocab.KindComments), s.registry.Merged(vocab.KindOperators)
}

// RemoveVocabularyEntry deletes a custom vocabulary value.
func (s *Service) RemoveVocabularyEntry(ctx context.Context, kind, value string) error {
	err := s.registry.Remove(ctx, vocab.Kind(kind), value)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vocab.ErrUnknownKind):
		return domainError(http.StatusBadRequest, "UNKNOWN_KIND", err.Error(), kind)
	case errors.Is(err, vocab.ErrBuiltinDefault):
		return domainError(http.StatusConflict, "BUILTIN_DEFAULT", err.Error(), value)
	default:
		return fromBackend(err)
	}
}

// RenameVocabularyEntry renames a value and cascades the rename through
// every historical record referencing it.
func (s *Service) RenameVocabularyEntry(ctx context.Context, kind, oldValue, newValue string) error {
	err := s.registry.Rename(ctx, vocab.Kind(kind), oldValue, newValue)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vocab.ErrUnknownKind):
		return domainError(http.StatusBadRequest, "UNKNOWN_KIND", err.Error(), kind)
	default:
		return fromBackend(err)
	}
}

// ExportRecords produces the spreadsheet or report file for the filtered
// record set.
func (s *Service) ExportRecords(f view.FilterState, format export.Format) (*export.Result, error) {
	filtered := view.Filter(s.records.Snapshot(), f)
	result, err := export.Export(filtered, format, "telar-records")
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return nil, domainError(http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), format)
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", err.Error(), nil)
	default:
		return nil, domainError(http.StatusInternalServerError, "EXPORT_FAILED", err.Error(), nil)
	}
}

// SubscribeRecords exposes the record store subscription to the transport
// layer (SSE).
func (s *Service) SubscribeRecords(onRecords func([]record.Record), onError func(string)) func() {
	return s.records.Subscribe(onRecords, onError)
}

// SubscribeVocabulary exposes the registry subscription to the transport
// layer (SSE).
func (s *Service) SubscribeVocabulary(onChange func(comments, operators []string)) func() {
	return s.registry.Subscribe(onChange)
}

// SubscribeConnectivity exposes connectivity transitions to the transport
// layer (SSE).
func (s *Service) SubscribeConnectivity(fn func(connectivity.State)) func() {
	return s.monitor.Subscribe(fn)
}

// Bootstrap logs the effective configuration. Kept separate from Start so a
// failed log never blocks serving.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("backend ping: %w", err)
	}
	log.Printf("app: backend=%s gate=%v archive=%v", s.cfg.Backend, s.gate.Enabled(), s.archive != nil)
	return nil
}

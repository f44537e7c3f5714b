package topology

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/attaradev/nats-pubsub-sub004/subject"
)

const overlapRaceSleep = 50 * time.Millisecond

// Manager ensures streams exist with the declared configuration,
// idempotently, without clobbering subjects owned by other streams.
type Manager struct {
	js    nats.JetStreamContext
	log   *zap.Logger
	guard *OverlapGuard
}

// NewManager returns a Manager backed by js.
func NewManager(js nats.JetStreamContext, log *zap.Logger) *Manager {
	return &Manager{js: js, log: log, guard: NewOverlapGuard(js)}
}

// Ensure creates desc's stream if absent, or updates it (adding any
// missing non-conflicting subjects) if present. stream_not_found is the
// only 404 condition recognized; every other StreamInfo error
// propagates.
func (m *Manager) Ensure(desc StreamDesc) error {
	info, err := m.js.StreamInfo(desc.Name)
	if err == nil {
		return m.update(info, desc)
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}
	return m.create(desc)
}

func (m *Manager) create(desc StreamDesc) error {
	allowed, blocked, conflicts, err := m.guard.PartitionAllowed(desc.Subjects, desc.Name)
	if err != nil {
		return fmt.Errorf("overlap check: %w", err)
	}
	if len(blocked) > 0 {
		m.logConflicts(desc.Name, conflicts)
	}
	if len(allowed) == 0 {
		m.log.Warn("no non-conflicting subjects to provision; skipping stream creation",
			zap.String("stream", desc.Name))
		return nil
	}

	cfg := desc.toConfig()
	cfg.Subjects = allowed

	_, err = m.js.AddStream(cfg)
	if err != nil && isOverlapError(err) {
		// Another provisioner raced us; retry once after a short sleep.
		time.Sleep(overlapRaceSleep)
		_, err = m.js.AddStream(cfg)
	}
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	m.log.Info("stream provisioned", zap.String("stream", desc.Name), zap.Strings("subjects", allowed))
	return nil
}

func (m *Manager) update(info *nats.StreamInfo, desc StreamDesc) error {
	var missing []string
	for _, d := range desc.Subjects {
		if !subject.Covered(info.Config.Subjects, d) {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		m.checkRetention(info, desc)
		return nil
	}

	allowed, blocked, conflicts, err := m.guard.PartitionAllowed(missing, desc.Name)
	if err != nil {
		return fmt.Errorf("overlap check: %w", err)
	}
	if len(blocked) > 0 {
		m.logConflicts(desc.Name, conflicts)
	}

	m.checkRetention(info, desc)

	if len(allowed) == 0 {
		return nil
	}

	cfg := info.Config
	cfg.Subjects = append(append([]string{}, cfg.Subjects...), allowed...)
	cfg.Storage = desc.Storage // storage may be updated

	if _, err := m.js.UpdateStream(&cfg); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	m.log.Info("stream subjects extended", zap.String("stream", desc.Name), zap.Strings("added", allowed))
	return nil
}

func (m *Manager) checkRetention(info *nats.StreamInfo, desc StreamDesc) {
	if info.Config.Retention != desc.Retention {
		m.log.Warn("stream retention mismatch left unchanged (retention is immutable)",
			zap.String("stream", desc.Name),
			zap.String("existing", info.Config.Retention.String()),
			zap.String("desired", desc.Retention.String()),
		)
	}
}

// logConflicts aggregates every blocked subject pair into a single
// go-multierror.Error and logs it as one warning naming each conflict,
// rather than one log line per pair.
func (m *Manager) logConflicts(stream string, conflicts []Conflict) {
	var errs *multierror.Error
	for _, c := range conflicts {
		errs = multierror.Append(errs, fmt.Errorf("%s overlaps existing subject %s on stream %s", c.DesiredSubject, c.ExistingSubject, c.ExistingStream))
	}
	if errs.ErrorOrNil() != nil {
		m.log.Warn("subjects excluded from stream due to overlap", zap.String("stream", stream), zap.Error(errs))
	}
}

// isOverlapError detects an overlap_error by NATS API error code or
// message pattern.
func isOverlapError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *nats.APIError
	if errors.As(err, &apiErr) {
		// JetStream "subjects overlap" API error code.
		if apiErr.ErrorCode == 10065 {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "overlap")
}

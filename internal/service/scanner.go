package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
	"github.com/iliyamo/festival-ticketing/internal/signer"
)

// Decision is what a gate device shows for one scan.
type Decision struct {
	Valid      bool             `json:"valid"`
	Status     model.ScanResult `json:"status"`
	Message    string           `json:"message"`
	CanEnter   bool             `json:"can_enter"`
	Retryable  bool             `json:"retryable"`
	TicketCode string           `json:"ticket_code,omitempty"`
	TicketType string           `json:"ticket_type,omitempty"`
	Seat       string           `json:"seat,omitempty"`
	UsedAt     *time.Time       `json:"used_at,omitempty"`
}

// CommitRequest is one gate tap.
type CommitRequest struct {
	Input     string `json:"input" validate:"required,max=4096"`
	ScannerID string `json:"-"`
	Gate      string `json:"gate" validate:"required,max=64"`
	DeviceID  string `json:"device_id" validate:"required,max=128"`
}

// Scanner validates tickets at the gate and consumes them exactly once.
type Scanner struct {
	Deps
	signer *signer.Signer
	loc    *time.Location
}

// NewScanner returns a scanner that computes "today" in loc (UTC when nil).
func NewScanner(d Deps, s *signer.Signer, loc *time.Location) *Scanner {
	if loc == nil {
		loc = time.UTC
	}
	return &Scanner{Deps: d.withDefaults(), signer: s, loc: loc}
}

// scanInput is a parsed gate input. payload is set for signed QRs.
type scanInput struct {
	code    string
	payload *signer.Payload
}

// parseInput accepts a bare code, a URL carrying code=..., or a signed QR
// envelope. Only the envelope can fail, with ErrSignatureInvalid.
func (s *Scanner) parseInput(in string) (scanInput, error) {
	in = strings.TrimSpace(in)
	if strings.HasPrefix(in, "{") {
		p, err := s.signer.Verify(in)
		if err != nil {
			return scanInput{}, ErrSignatureInvalid
		}
		return scanInput{code: p.TicketCode, payload: &p}, nil
	}
	if i := strings.Index(in, "code="); i >= 0 {
		if u, err := url.Parse(in); err == nil && u.Query().Get("code") != "" {
			in = u.Query().Get("code")
		} else {
			in = in[i+len("code="):]
			if j := strings.IndexAny(in, "&#"); j >= 0 {
				in = in[:j]
			}
		}
	}
	return scanInput{code: strings.ToUpper(strings.TrimSpace(in))}, nil
}

func (s *Scanner) today() string { return s.Now().In(s.loc).Format(model.DateLayout) }

// evaluate applies the gate checks in order. The returned decision for an
// admissible ticket has Status SUCCESS.
func (s *Scanner) evaluate(t *model.Ticket, tt *model.TicketType, in scanInput, today string) Decision {
	d := Decision{TicketCode: t.Code, TicketType: tt.Name}
	if t.Seat != nil {
		d.Seat = t.Seat.Label()
	}
	if in.payload != nil && in.payload.Version != t.QRVersion {
		d.Status, d.Message = model.ScanSignatureInvalid, "QR code has been superseded"
		return d
	}
	switch t.Status {
	case model.TicketUsed:
		d.Status, d.UsedAt = model.ScanAlreadyUsed, t.UsedAt
		d.Message = "Ticket already used"
		if t.UsedAt != nil {
			d.Message = "Ticket already used at " + t.UsedAt.In(s.loc).Format("15:04")
		}
		return d
	case model.TicketRefunded:
		d.Status, d.Message = model.ScanRefunded, "Ticket was refunded"
		return d
	case model.TicketCancelled:
		d.Status, d.Message = model.ScanCancelled, "Ticket was cancelled"
		return d
	case model.TicketTransferPending:
		d.Status, d.Message = model.ScanTransferPending, "Ticket is being transferred"
		return d
	}
	if !t.ValidOn(today, *tt) {
		d.Status = model.ScanWrongDay
		d.Message = fmt.Sprintf("Not valid on %s (valid: %s)", today, strings.Join(ValidDays(*t, *tt), ", "))
		return d
	}
	d.Status, d.Valid, d.CanEnter = model.ScanSuccess, true, true
	d.Message = "Welcome"
	if d.Seat != "" {
		d.Message = "Welcome, seat " + d.Seat
	}
	if t.CompanionOf != nil {
		d.Message += " (festival access granted with amphitheater seat)"
	}
	return d
}

func notFoundDecision(code string) Decision {
	return Decision{Status: model.ScanNotFound, Message: "Ticket not found", TicketCode: code}
}

func signatureDecision() Decision {
	return Decision{Status: model.ScanSignatureInvalid, Message: "QR signature invalid"}
}

// Validate previews a scan without changing anything or writing a log.
func (s *Scanner) Validate(ctx context.Context, input string) (Decision, error) {
	in, err := s.parseInput(input)
	if err != nil {
		return signatureDecision(), nil
	}
	var d Decision
	err = s.Store.View(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTicketByCode(ctx, in.code)
		if errors.Is(err, repository.ErrNotFound) {
			d = notFoundDecision(in.code)
			return nil
		}
		if err != nil {
			return err
		}
		tt, err := tx.GetTicketType(ctx, t.TicketTypeID)
		if err != nil {
			return err
		}
		d = s.evaluate(t, tt, in, s.today())
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	if d.Status == model.ScanSuccess {
		d.Status = model.ScanValid
	}
	return d, nil
}

// Commit consumes the ticket if it is admissible. The ticket row is locked
// without waiting; if another commit holds it the result is CONTENTION and
// the device should retry. Every outcome is written to the scan log.
func (s *Scanner) Commit(ctx context.Context, req CommitRequest) (d Decision, err error) {
	ctx, span := startSpan(ctx, "Scanner.Commit", attribute.String("gate", req.Gate))
	defer func() {
		span.SetAttributes(attribute.String("result", string(d.Status)))
		endSpan(span, err)
	}()
	start := time.Now()

	in, perr := s.parseInput(req.Input)
	if perr != nil {
		d = signatureDecision()
		if err := s.writeLog(ctx, req, nil, "", d); err != nil {
			return Decision{}, err
		}
		s.record(ctx, req, d, start)
		return d, nil
	}

	err = s.Store.WithTx(ctx, func(tx repository.Tx) error {
		t, err := tx.LockTicketByCodeNoWait(ctx, in.code)
		if errors.Is(err, repository.ErrNotFound) {
			d = notFoundDecision(in.code)
			return s.insertLog(ctx, tx, req, nil, in.code, d)
		}
		if err != nil {
			return err
		}
		tt, err := tx.GetTicketType(ctx, t.TicketTypeID)
		if err != nil {
			return err
		}
		d = s.evaluate(t, tt, in, s.today())
		if d.Status == model.ScanSuccess {
			if err := t.Transition(model.TicketUsed, s.Now()); err != nil {
				return err
			}
			if err := tx.UpdateTicket(ctx, t); err != nil {
				return err
			}
			d.UsedAt = t.UsedAt
		}
		return s.insertLog(ctx, tx, req, &t.ID, t.Code, d)
	})
	if errors.Is(err, repository.ErrLockNotAvailable) || errors.Is(err, repository.ErrLockTimeout) {
		d = Decision{
			Status:     model.ScanContention,
			Message:    "Scan in progress on another device, try again",
			Retryable:  true,
			TicketCode: in.code,
		}
		err = s.writeLog(ctx, req, nil, in.code, d)
	}
	if err != nil {
		return Decision{}, err
	}
	s.record(ctx, req, d, start)
	return d, nil
}

func (s *Scanner) insertLog(ctx context.Context, tx repository.Tx, req CommitRequest, ticketID *string, code string, d Decision) error {
	return tx.InsertScanLog(ctx, &model.ScanLog{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		Code:      code,
		Result:    d.Status,
		Message:   d.Message,
		ScannerID: req.ScannerID,
		Gate:      req.Gate,
		DeviceID:  req.DeviceID,
		ScannedAt: s.Now(),
	})
}

// writeLog records an outcome that was decided outside a ticket transaction.
func (s *Scanner) writeLog(ctx context.Context, req CommitRequest, ticketID *string, code string, d Decision) error {
	return s.Store.WithTx(ctx, func(tx repository.Tx) error {
		return s.insertLog(ctx, tx, req, ticketID, code, d)
	})
}

func (s *Scanner) record(ctx context.Context, req CommitRequest, d Decision, start time.Time) {
	s.Metrics.ObserveScan(string(d.Status), time.Since(start))
	l := logger.WithContext(ctx, s.Logger).With(
		zap.String("result", string(d.Status)), zap.String("ticket_code", d.TicketCode),
		zap.String("gate", req.Gate), zap.String("device_id", req.DeviceID))
	if d.Status == model.ScanContention {
		l.Warn("scan contention")
		return
	}
	l.Info("scan committed")
}

// Committer is anything that commits scans, typically *Scanner or a remote
// gate client.
type Committer interface {
	Commit(ctx context.Context, req CommitRequest) (Decision, error)
}

// DefaultRetryPolicy retries a few times within about a second.
func DefaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 400 * time.Millisecond
	b.MaxElapsedTime = 1500 * time.Millisecond
	return backoff.WithMaxRetries(b, 5)
}

// RetryCommit repeats Commit while it reports CONTENTION, following policy.
// Any other decision is returned as is; when retries run out the last
// CONTENTION decision is returned.
func RetryCommit(ctx context.Context, c Committer, req CommitRequest, policy backoff.BackOff) (Decision, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	var d Decision
	op := func() error {
		var err error
		d, err = c.Commit(ctx, req)
		if err != nil {
			return backoff.Permanent(err)
		}
		if d.Status == model.ScanContention {
			return ErrContention
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if errors.Is(err, ErrContention) {
		return d, nil
	}
	return d, err
}

// Package vmur implements the Texas Visit Maintenance Unlock Request
// workflow (component E, spec.md §4.5): lets a Texas organization
// correct a locked (Complete or later) record within a bounded window,
// via a supervisor-approved amendment that triggers the EVV Record
// Engine's fork.
//
// Grounded on internal/evv's transition shape: small, explicit,
// precondition-checked functions over a status field — the same
// pattern the teacher's engine.GeoGuard established one layer down,
// generalized here to a second, independent state machine
// (VMURStatus) layered on top of the EVV record's own. Unlike
// internal/evv's transitions, the VMUR transitions take no per-record
// lock of their own; only the Amend call they make is serialized.
package vmur

import (
	"context"
	"sync"
	"time"

	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv/store"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// minWindowDays/maxWindowDays bound the service-date age a VMUR may
// target (spec.md §4.5: "Texas floor is 30 days, so VMUR is
// permissible only for records 30 to 60 days old").
const (
	minWindowDays = 30
	maxWindowDays = 60

	// expirationDays is how long a Pending VMUR remains actionable
	// before a sweep moves it to Expired (spec.md §4.5).
	expirationDays = 30
)

// permittedReasonCodes are the Texas amendment reason codes spec.md
// §4.5 names explicitly, plus the "etc." it leaves open is treated as
// closed here — an unlisted reason is rejected at creation.
var permittedReasonCodes = map[string]bool{
	"DeviceMalfunction":      true,
	"GPSUnavailable":         true,
	"ClockOutMissed":         true,
	"ConnectivityLoss":       true,
	"ClientRefusedSignature": true,
}

// Store persists VMURs. A single in-memory map is enough at this
// layer's scale (VMURs are low-volume relative to EVV records);
// grounded on the teacher's storage.MemoryStore RWMutex-guarded map.
type Store interface {
	Get(ctx context.Context, id string) (*models.VMUR, error)
	Save(ctx context.Context, vmur *models.VMUR) error
	ListPending(ctx context.Context) ([]*models.VMUR, error)
}

// MemoryStore is the default Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*models.VMUR
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*models.VMUR)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.VMUR, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "vmur_not_found", "no VMUR with that id").WithField("vmurId", id)
	}
	clone := *v
	return &clone, nil
}

func (s *MemoryStore) Save(_ context.Context, vmur *models.VMUR) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *vmur
	s.byID[vmur.VMURID] = &clone
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]*models.VMUR, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.VMUR
	for _, v := range s.byID {
		if v.Status == models.VMURPending {
			clone := *v
			out = append(out, &clone)
		}
	}
	return out, nil
}

// Workflow orchestrates VMUR creation, approval, denial, and
// expiration, and drives internal/evv's Amend on approval.
type Workflow struct {
	vmurs   Store
	records store.Repository
	engine  *evv.Engine
}

func New(vmurs Store, records store.Repository, engine *evv.Engine) *Workflow {
	return &Workflow{vmurs: vmurs, records: records, engine: engine}
}

// CreateInput is the input to Create.
type CreateInput struct {
	VMURID          string
	RecordID        models.RecordID
	ReasonCode      string
	Justification   string
	CorrectedData   map[string]any
	ChangeSummary   string
	Requester       string
	RequesterHasVMURCreate bool
	Now             time.Time
}

// Create implements spec.md §4.5's creation preconditions: the target
// record must exist, be Texas-governed, be Complete or Submitted, its
// service date must fall within the 30-60 day window, the reason code
// must be a permitted Texas code, and the requester must hold
// VMUR-create permission.
func (w *Workflow) Create(ctx context.Context, in CreateInput) (*models.VMUR, error) {
	if !in.RequesterHasVMURCreate {
		return nil, errors.New(errors.KindPermissionDenied, "vmur_create_denied", "requester lacks VMUR-create permission").WithField("requester", in.Requester)
	}
	if !permittedReasonCodes[in.ReasonCode] {
		return nil, errors.New(errors.KindInputValidation, "reason_code_not_permitted", "reason code is not a permitted Texas VMUR reason").WithField("reasonCode", in.ReasonCode)
	}

	record, err := w.records.Get(ctx, in.RecordID)
	if err != nil {
		return nil, err
	}
	if record.StateCode != "TX" {
		return nil, errors.New(errors.KindInputValidation, "not_texas_governed", "VMUR is only available for Texas-governed records").WithField("state", record.StateCode)
	}
	if record.Status != models.StatusComplete && record.Status != models.StatusSubmitted {
		return nil, errors.New(errors.KindInvalidTransition, "record_not_locked", "VMUR target must be Complete or Submitted").WithField("status", string(record.Status))
	}

	ageDays, err := serviceDateAgeDays(record.ServiceDate, in.Now)
	if err != nil {
		return nil, err
	}
	if ageDays < minWindowDays {
		return nil, errors.New(errors.KindInvalidTransition, "too_recent_for_vmur", "records under 30 days old must be corrected through ordinary edit, not a VMUR").WithField("ageDays", itoa(ageDays))
	}
	if ageDays > maxWindowDays {
		return nil, errors.New(errors.KindInvalidTransition, "outside_amendment_window", "service date is outside the 60-day amendment window").WithField("ageDays", itoa(ageDays))
	}

	vmur := &models.VMUR{
		VMURID:        in.VMURID,
		RecordID:      in.RecordID,
		VisitID:       record.VisitID,
		CorrectedData: in.CorrectedData,
		ChangeSummary: in.ChangeSummary,
		ReasonCode:    in.ReasonCode,
		Justification: in.Justification,
		Requester:     in.Requester,
		Status:        models.VMURPending,
		CreatedAt:     in.Now,
		ExpiresAt:     in.Now.AddDate(0, 0, expirationDays),
	}
	if err := w.vmurs.Save(ctx, vmur); err != nil {
		return nil, err
	}
	return vmur, nil
}

// Approve implements spec.md §4.5's approval path: requires the
// Coordinator/Supervisor role, triggers the EVV Record Engine's Amend
// to fork a corrected record, then moves the VMUR to Approved.
func (w *Workflow) Approve(ctx context.Context, vmurID string, approverHasApprovalRole bool, approver string, notes string, now time.Time) (*models.VMUR, *models.Record, error) {
	if !approverHasApprovalRole {
		return nil, nil, errors.New(errors.KindPermissionDenied, "vmur_approve_denied", "approver lacks Coordinator/Supervisor role").WithField("approver", approver)
	}

	vmur, err := w.vmurs.Get(ctx, vmurID)
	if err != nil {
		return nil, nil, err
	}
	if vmur.Status != models.VMURPending {
		return nil, nil, errors.New(errors.KindInvalidTransition, "not_pending", "Approve is only valid from Pending").WithField("status", string(vmur.Status))
	}
	if vmur.IsExpired(now) {
		return nil, nil, errors.New(errors.KindInvalidTransition, "vmur_expired", "VMUR has already expired")
	}

	forked, err := w.engine.Amend(ctx, evv.AmendInput{
		OriginalID:    vmur.RecordID,
		CorrectedData: vmur.CorrectedData,
		At:            now,
		ActorID:       approver,
	})
	if err != nil {
		return nil, nil, err
	}

	vmur.Status = models.VMURApproved
	vmur.Approver = approver
	vmur.ApprovalTime = &now
	vmur.ApprovalNotes = notes
	if err := w.vmurs.Save(ctx, vmur); err != nil {
		return nil, nil, err
	}
	return vmur, forked, nil
}

// Deny implements spec.md §4.5's denial path: requires a written
// reason.
func (w *Workflow) Deny(ctx context.Context, vmurID string, denier string, reason string) (*models.VMUR, error) {
	if reason == "" {
		return nil, errors.New(errors.KindInputValidation, "denial_reason_required", "denial requires a written reason")
	}
	vmur, err := w.vmurs.Get(ctx, vmurID)
	if err != nil {
		return nil, err
	}
	if vmur.Status != models.VMURPending {
		return nil, errors.New(errors.KindInvalidTransition, "not_pending", "Deny is only valid from Pending").WithField("status", string(vmur.Status))
	}
	vmur.Status = models.VMURDenied
	vmur.Approver = denier
	vmur.DenialReason = reason
	if err := w.vmurs.Save(ctx, vmur); err != nil {
		return nil, err
	}
	return vmur, nil
}

// MarkSubmittedToAggregator sets the VMUR's submittedToAggregator
// flag once the forked record has been acknowledged by the aggregator
// (spec.md §4.5: "The VMUR's submittedToAggregator flag is set when
// the new record has been acknowledged").
func (w *Workflow) MarkSubmittedToAggregator(ctx context.Context, vmurID string) error {
	vmur, err := w.vmurs.Get(ctx, vmurID)
	if err != nil {
		return err
	}
	vmur.SubmittedToAggregator = true
	return w.vmurs.Save(ctx, vmur)
}

// ExpireSweep implements spec.md §4.5's scheduled sweeper: moves every
// Pending VMUR past its expiration date into Expired, in one batch.
func (w *Workflow) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	pending, err := w.vmurs.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, vmur := range pending {
		if !vmur.IsExpired(now) {
			continue
		}
		vmur.Status = models.VMURExpired
		if err := w.vmurs.Save(ctx, vmur); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func serviceDateAgeDays(serviceDate string, now time.Time) (int, error) {
	parsed, err := time.Parse("2006-01-02", serviceDate)
	if err != nil {
		return 0, errors.Wrap(errors.KindInputValidation, "invalid_service_date", "service date is not a valid YYYY-MM-DD date", err)
	}
	return int(now.Sub(parsed).Hours() / 24), nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

package artifact

import (
	"strings"
	"sync"
	"time"

	"github.com/agentkernel/kernel/internal/contractid"
	"github.com/agentkernel/kernel/internal/errs"
	"github.com/agentkernel/kernel/internal/logging"
	"github.com/agentkernel/kernel/internal/registry"
)

// CodeValidator checks that executable code compiles under the sandbox,
// without running it. The contract engine's sandbox implements this; the
// store takes it as an interface to avoid an import cycle.
type CodeValidator interface {
	ValidateCode(code string) error
}

// Event is a minimal structured record the store emits on every mutation;
// World's event logger subscribes to these (spec §4.3 "emits an event").
type Event struct {
	Type      string
	Artifact  string
	Timestamp time.Time
	Fields    map[string]any
}

// EventSink receives store-level events.
type EventSink interface {
	Emit(Event)
}

// Store is the canonical artifact table, keyed by ID, plus secondary
// indexes by creator and has_standing (spec §4.3).
type Store struct {
	mu sync.RWMutex

	artifacts map[string]*Artifact
	byCreator map[string]map[string]bool
	standing  map[string]bool

	registry  *registry.Registry
	validator CodeValidator
	sink      EventSink
	log       *logging.Logger
}

// New creates an empty artifact store bound to reg for ID uniqueness.
func New(reg *registry.Registry, validator CodeValidator, sink EventSink, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NewDefault("artifact-store")
	}
	return &Store{
		artifacts: make(map[string]*Artifact),
		byCreator: make(map[string]map[string]bool),
		standing:  make(map[string]bool),
		registry:  reg,
		validator: validator,
		sink:      sink,
		log:       log,
	}
}

// WriteParams is the input to Write; optional fields default to zero
// values, matching the spec's "…optional fields" signature.
type WriteParams struct {
	ID                string
	Type              string
	Content           string
	CreatedBy         string
	Executable        bool
	Code              string
	Price             int64
	AccessContractID  string
	State             map[string]any
	Metadata          map[string]any
	Capabilities      []string
	HasStanding       bool
	HasLoop           bool
	KernelProtected   bool
}

// Write creates a new artifact, or overwrites an existing one (spec §4.3):
// on overwrite every field, State included, is replaced from p except
// CreatedBy and CreatedAt, which keep their original values. ID uniqueness is checked against the
// registry for creation; overwriting an existing ID is allowed, but
// switching the ID's category is not (an "artifact" ID can't start
// resolving as something else).
func (s *Store) Write(p WriteParams) (*Artifact, error) {
	if p.ID == "" {
		return nil, errs.InvalidArgument("artifact id is required")
	}
	if p.Executable {
		if p.Code == "" {
			return nil, errs.InvalidArgument("executable artifact requires non-empty code")
		}
		if s.validator != nil {
			if err := s.validator.ValidateCode(p.Code); err != nil {
				return nil, errs.SyntaxError(err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.artifacts[p.ID]
	if !exists {
		if s.registry != nil {
			if err := s.registry.Register(p.ID, registry.CategoryArtifact); err != nil {
				return nil, err
			}
		}
	} else if existing.Deleted {
		return nil, errs.Deleted(p.ID)
	}

	now := time.Now().UTC()
	art := &Artifact{
		ID:               p.ID,
		Type:             p.Type,
		Content:          p.Content,
		CreatedBy:        p.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
		Executable:       p.Executable,
		Code:             p.Code,
		Price:            p.Price,
		AccessContractID: p.AccessContractID,
		State:            cloneMap(p.State),
		Metadata:         cloneMap(p.Metadata),
		Capabilities:     append([]string(nil), p.Capabilities...),
		HasStanding:      p.HasStanding,
		HasLoop:          p.HasLoop,
		KernelProtected:  p.KernelProtected,
	}
	if exists {
		art.CreatedAt = existing.CreatedAt
		art.CreatedBy = existing.CreatedBy
	}
	if art.State == nil {
		art.State = make(map[string]any)
	}
	if art.Metadata == nil {
		art.Metadata = make(map[string]any)
	}

	// Auto-populate authorization state fields for fresh artifacts, per
	// spec §3.1: freeware/transferable_freeware -> writer=created_by;
	// self_owned/private -> principal=created_by.
	if !exists {
		if contractid.WriterFamily(art.AccessContractID) {
			if _, ok := art.State["writer"]; !ok {
				art.State["writer"] = art.CreatedBy
			}
		}
		if contractid.PrincipalFamily(art.AccessContractID) {
			if _, ok := art.State["principal"]; !ok {
				art.State["principal"] = art.CreatedBy
			}
		}
	}

	s.artifacts[p.ID] = art
	s.indexLocked(art)

	s.emit(Event{Type: "write_artifact_success", Artifact: art.ID, Timestamp: now, Fields: map[string]any{
		"created": !exists,
	}})

	return art.Clone(), nil
}

func (s *Store) indexLocked(a *Artifact) {
	if a.CreatedBy != "" {
		set, ok := s.byCreator[a.CreatedBy]
		if !ok {
			set = make(map[string]bool)
			s.byCreator[a.CreatedBy] = set
		}
		set[a.ID] = true
	}
	if a.HasStanding {
		s.standing[a.ID] = true
	} else {
		delete(s.standing, a.ID)
	}
}

// Get returns the artifact for id. A tombstoned artifact is returned with
// its deletion fields set (callers needing the tombstone shape for `read`
// should call Tombstone() on the result).
func (s *Store) Get(id string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// MustGet returns the artifact or a NOT_FOUND error.
func (s *Store) MustGet(id string) (*Artifact, error) {
	a, ok := s.Get(id)
	if !ok {
		return nil, errs.NotFound("artifact", id)
	}
	return a, nil
}

// ApplyStateUpdates merges updates into the target artifact's State,
// field-wise: new keys are added, existing keys overwritten, unrelated
// keys preserved — never a full replacement (spec §8 property 9).
func (s *Store) ApplyStateUpdates(id string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return errs.NotFound("artifact", id)
	}
	if a.State == nil {
		a.State = make(map[string]any)
	}
	for k, v := range updates {
		a.State[k] = v
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateMetadata merges updates into the target artifact's Metadata,
// rejecting any key IsReservedMetadataKey reports true for.
func (s *Store) UpdateMetadata(id string, updates map[string]any) error {
	for k := range updates {
		if IsReservedMetadataKey(k) {
			return errs.InvalidArgument("metadata key is reserved: " + k)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return errs.NotFound("artifact", id)
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	for k, v := range updates {
		a.Metadata[k] = v
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// TransferOwnership sets the authoritative state field (writer or
// principal, depending on which kernel contract family the artifact
// declares) to "to", whatever it held before. Used by kernel system-level steps only;
// agents effect transfers via contract-driven state_updates instead
// (spec §4.3).
func (s *Store) TransferOwnership(id, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return errs.NotFound("artifact", id)
	}
	if a.Deleted {
		return errs.Deleted(id)
	}

	field := "writer"
	if contractid.PrincipalFamily(a.AccessContractID) {
		field = "principal"
	}
	a.State[field] = to
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete soft-deletes an artifact, producing a tombstone. Fails for
// genesis artifacts and kernel-protected artifacts (spec §4.3); callers
// are responsible for the contract-authorization check before calling.
func (s *Store) Delete(id, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return errs.NotFound("artifact", id)
	}
	if a.Deleted {
		return errs.Deleted(id)
	}
	if a.Type == "genesis" {
		return errs.NotAuthorized("genesis artifacts cannot be deleted")
	}
	if a.KernelProtected {
		return errs.NotAuthorized("kernel-protected artifacts cannot be deleted")
	}

	now := time.Now().UTC()
	a.Deleted = true
	a.DeletedAt = &now
	a.DeletedBy = requester
	a.UpdatedAt = now

	s.emit(Event{Type: "artifact_deleted", Artifact: id, Timestamp: now, Fields: map[string]any{
		"requester": requester,
	}})
	return nil
}

// Edit performs a surgical old_string -> new_string replacement in
// Content. Succeeds iff oldString occurs exactly once (spec §4.3, §8
// property 8); zero or multiple occurrences each fail with a distinct
// INVALID_ARGUMENT error.
func (s *Store) Edit(id, oldString, newString string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return errs.NotFound("artifact", id)
	}
	if a.Deleted {
		return errs.Deleted(id)
	}
	if a.KernelProtected {
		return errs.NotAuthorized("kernel-protected artifacts cannot be edited")
	}

	count := strings.Count(a.Content, oldString)
	switch count {
	case 0:
		return errs.InvalidArgument("old_string not found in content")
	case 1:
		a.Content = strings.Replace(a.Content, oldString, newString, 1)
		a.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return errs.InvalidArgument("old_string is not unique in content").WithDetail("occurrences", count)
	}
}

// ByCreator lists artifact IDs created by principal.
func (s *Store) ByCreator(principal string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byCreator[principal]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// HasStandingIDs lists all artifact IDs that are ledger principals.
func (s *Store) HasStandingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.standing))
	for id := range s.standing {
		out = append(out, id)
	}
	return out
}

func (s *Store) emit(e Event) {
	if s.sink != nil {
		s.sink.Emit(e)
	}
}

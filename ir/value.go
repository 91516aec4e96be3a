package ir

import "fmt"

// Storage is the backend's realization of a Value: an empty/unassigned
// cell, a fixed global, an integer or float constant, or a label handle.
// Each backend package defines its own concrete Storage kinds (for example
// backend/dumpir uses string-rendered labels; backend/jit uses host
// register/memory operands); ir only needs the marker interface so that
// peephole folds can recognize the handful of universal shapes below.
type Storage interface {
	fmt.Stringer
	isStorage()
}

// StorageBase is an embeddable marker that grants the unexported isStorage
// method to Storage kinds defined outside this package (backend/dumpir,
// backend/jit). Go requires an interface's unexported methods to originate
// from the interface's own package, so external Storage kinds embed this
// rather than declaring isStorage themselves.
type StorageBase struct{}

func (StorageBase) isStorage() {}

// Unassigned is the zero Storage: no backend realization has been picked
// for this Value yet.
type Unassigned struct{}

func (Unassigned) isStorage()     {}
func (Unassigned) String() string { return "<unassigned>" }

// ConstU32 is a known-at-construction-time 32-bit constant.
type ConstU32 struct{ V uint32 }

func (ConstU32) isStorage()      {}
func (c ConstU32) String() string { return fmt.Sprintf("#%#x", c.V) }

// ConstU64 is a known-at-construction-time 64-bit constant.
type ConstU64 struct{ V uint64 }

func (ConstU64) isStorage()      {}
func (c ConstU64) String() string { return fmt.Sprintf("#%#x", c.V) }

// ConstF64 is a known-at-construction-time double-precision constant.
type ConstF64 struct{ V float64 }

func (ConstF64) isStorage()      {}
func (c ConstF64) String() string { return fmt.Sprintf("#%v", c.V) }

// LabelHandle names a jump target. Every Label-typed Value's storage is a
// LabelHandle once the Value has been emitted with Setlbl.
type LabelHandle struct{ ID uint64 }

func (LabelHandle) isStorage()      {}
func (l LabelHandle) String() string { return fmt.Sprintf("L%d", l.ID) }

// Value is a single SSA register: a type plus a mutable, backend-assigned
// storage cell. Values are shared by pointer — multiple Op operands may
// refer to the same *Value, and the frontend holds the single strong owner
// for every Value it allocates (constants and fixed registers for its own
// lifetime, temporaries until the owning TranslationBlock is finalized).
//
// Mutation of storage is restricted: a temporary Value may be assigned
// exactly once (SSA), checked by SetStorage. A Fixed Value (a guest
// register or flag) may be reassigned arbitrarily many times — each TB
// re-derives its cached realization from the backend's global storage and
// may write it back repeatedly as guest instructions execute.
type Value struct {
	ty      ValueType
	fixed   bool
	storage Storage
}

// NewValue allocates a fresh, unassigned Value of the given type. fixed
// marks a value (a guest register, flag, or named backend global) that may
// be written more than once; all other Values are write-once temporaries.
func NewValue(ty ValueType, fixed bool) *Value {
	return &Value{ty: ty, fixed: fixed, storage: Unassigned{}}
}

// Type returns this Value's declared ValueType.
func (v *Value) Type() ValueType { return v.ty }

// Fixed reports whether this Value may be reassigned more than once.
func (v *Value) Fixed() bool { return v.fixed }

// Storage returns the current backend realization of this Value.
func (v *Value) Storage() Storage { return v.storage }

// Assigned reports whether SetStorage has been called at least once.
func (v *Value) Assigned() bool {
	_, unassigned := v.storage.(Unassigned)
	return !unassigned
}

// SetStorage installs the backend's realization of this Value. Writing an
// already-assigned non-Fixed Value is an SSA violation, a translator bug
// rather than a guest-reachable error, so it panics.
func (v *Value) SetStorage(s Storage) {
	if v.Assigned() && !v.fixed {
		panic(fmt.Sprintf("ir: trying to write to initialized value (type %s)", v.ty))
	}
	v.storage = s
}

// IsConstZero reports whether this Value is a known-zero integer constant,
// the trigger condition for the Add/Sub/Mov peephole folds.
func (v *Value) IsConstZero() bool {
	switch s := v.storage.(type) {
	case ConstU32:
		return s.V == 0
	case ConstU64:
		return s.V == 0
	default:
		return false
	}
}

// SameStorage reports whether two Values currently share the identical
// backend realization, used by the Mov no-op fold.
func SameStorage(a, b *Value) bool {
	if a == b {
		return true
	}
	if !a.Assigned() || !b.Assigned() {
		return false
	}
	return a.storage == b.storage
}

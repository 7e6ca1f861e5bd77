package creator

// Kind is the wire discriminator of an event.
type Kind string

const (
	KindSetError              Kind = "SetError"
	KindClearError            Kind = "ClearError"
	KindClearDirtyEntities    Kind = "ClearDirtyEntities"
	KindStartCreatingEntities Kind = "StartCreatingEntities"
	KindCommitTableChanges    Kind = "CommitTableChanges"
	KindSetTableName          Kind = "SetTableName"
	KindModifyState           Kind = "ModifyState"
)

// Event is one entity-creator event. Each kind is its own type and
// carries only its own payload.
type Event interface {
	Kind() Kind
}

// SetError records an externally detected error.
type SetError struct {
	Message string
}

// ClearError removes the recorded error.
type ClearError struct{}

// ClearDirtyEntities acknowledges committed table changes.
type ClearDirtyEntities struct{}

// StartCreatingEntities marks entity creation as underway.
type StartCreatingEntities struct{}

// CommitTableChanges ends entity creation and marks the changes dirty.
type CommitTableChanges struct{}

// SetTableName sets the name of the table being created.
type SetTableName struct {
	Name string
}

// ModifyState replaces the column map and primary key together.
type ModifyState struct {
	Columns    Columns
	PrimaryKey int
}

// Unrecognized is an event whose kind is not known to this package,
// usually decoded from the wire. Reducing it is a no-op.
type Unrecognized struct {
	Name string
}

func (SetError) Kind() Kind              { return KindSetError }
func (ClearError) Kind() Kind            { return KindClearError }
func (ClearDirtyEntities) Kind() Kind    { return KindClearDirtyEntities }
func (StartCreatingEntities) Kind() Kind { return KindStartCreatingEntities }
func (CommitTableChanges) Kind() Kind    { return KindCommitTableChanges }
func (SetTableName) Kind() Kind          { return KindSetTableName }
func (ModifyState) Kind() Kind           { return KindModifyState }
func (u Unrecognized) Kind() Kind        { return Kind(u.Name) }

// Supported reports whether ev is one of the event types defined here.
// Other implementations of Event, pointers to these types, and
// Unrecognized values named after a known kind reduce as no-ops but would
// read back from the wire as a real event, so they cannot be encoded.
func Supported(ev Event) bool {
	switch e := ev.(type) {
	case SetError, ClearError, ClearDirtyEntities, StartCreatingEntities,
		CommitTableChanges, SetTableName, ModifyState:
		return true
	case Unrecognized:
		return !e.Kind().Known()
	default:
		return false
	}
}

// Known reports whether k is one of the kinds the reducer handles.
func (k Kind) Known() bool {
	switch k {
	case KindSetError, KindClearError, KindClearDirtyEntities,
		KindStartCreatingEntities, KindCommitTableChanges,
		KindSetTableName, KindModifyState:
		return true
	}
	return false
}

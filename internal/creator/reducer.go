package creator

// Reduce returns the snapshot that follows prev after ev.
//
// A nil prev is treated as Initial(). Events of an unknown type, and a
// nil event, return prev unchanged. Reduce never fails and never
// validates payloads.
func Reduce(prev *State, ev Event) State {
	var next State
	if prev == nil {
		next = Initial()
	} else {
		next = *prev
	}

	switch e := ev.(type) {
	case SetError:
		msg := e.Message
		next.Error = &msg
	case ClearError:
		next.Error = nil
	case ClearDirtyEntities:
		next.EntitiesDirty = false
	case StartCreatingEntities:
		next.CreatingEntities = true
	case CommitTableChanges:
		next.CreatingEntities = false
		next.EntitiesDirty = true
	case SetTableName:
		name := e.Name
		next.TableName = &name
	case ModifyState:
		next.Columns = e.Columns.Clone()
		next.PrimaryKey = e.PrimaryKey
	}

	return next
}

// Fold applies events in order starting from prev.
func Fold(prev *State, events ...Event) State {
	var cur State
	if prev == nil {
		cur = Initial()
	} else {
		cur = *prev
	}
	for _, ev := range events {
		cur = Reduce(&cur, ev)
	}
	return cur
}

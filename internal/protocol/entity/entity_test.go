package entity

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/schema"
	"github.com/danmuck/binlink/internal/testutil/testlog"
)

var (
	keyName    = NewKey[string](1, "Name", schema.String)
	keyCount   = NewKey[int32](2, "Count", schema.Int32Nullable)
	keyTags    = NewKey[[]string](3, "Tags", schema.StringArray)
	keyChild   = NewKey[*Entity](4, "Child", schema.Object)
	keyVersion = NewKey[int64](schema.FieldVersion.ID, schema.FieldVersion.Name, schema.FieldVersion.Tag)
)

var testType = schema.MustType(77, "Widget", keyName.Field, keyCount.Field, keyTags.Field, keyChild.Field)

type recordingParent struct {
	seen []*Entity
}

func (p *recordingParent) SetChanged(e *Entity) {
	p.seen = append(p.seen, e)
}

func withClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = prev })
}

func TestSetChangedLifecycle(t *testing.T) {
	testlog.Start(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	withClock(t, created)

	parent := &recordingParent{}
	e := NewEntity(testType)
	e.SetParent(parent)
	if e.State() != Unchanged {
		t.Fatalf("fresh entity state got=%s", e.State())
	}

	if err := keyName.Set(e, "alpha"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if e.State() != New || e.Version() != 1 || !e.CreatedUtc().Equal(created) {
		t.Fatalf("after first set state=%s version=%d created=%v", e.State(), e.Version(), e.CreatedUtc())
	}
	if len(parent.seen) != 1 || parent.seen[0] != e {
		t.Fatalf("parent not notified: %v", parent.seen)
	}

	e.ResetChanged()
	modified := created.Add(time.Hour)
	withClock(t, modified)
	if err := keyName.Set(e, "beta"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if e.State() != Changed || e.Version() != 2 || !e.LastModifiedUtc().Equal(modified) {
		t.Fatalf("after second set state=%s version=%d modified=%v", e.State(), e.Version(), e.LastModifiedUtc())
	}
	if !e.CreatedUtc().Equal(created) {
		t.Fatalf("created stamp moved: %v", e.CreatedUtc())
	}
	if v, ok := keyVersion.Get(e); !ok || v != 2 {
		t.Fatalf("version key got=%d ok=%v", v, ok)
	}
}

func TestSetSameValueDoesNotMarkChanged(t *testing.T) {
	testlog.Start(t)
	e := NewEntity(testType)
	keyTags.Put(e, []string{"a", "b"})
	if err := keyTags.Set(e, []string{"a", "b"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if e.State() != Unchanged || e.Version() != 0 {
		t.Fatalf("equal set changed the entity: state=%s version=%d", e.State(), e.Version())
	}
}

func TestSetRejectsWrongTypeAndUnknownField(t *testing.T) {
	testlog.Start(t)
	e := NewEntity(testType)
	if err := e.Set(keyCount.ID, int64(5)); !errors.Is(err, protocol.ErrUnsupportedValue) {
		t.Fatalf("expected ErrUnsupportedValue, got %v", err)
	}
	if err := e.Set(999, "x"); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := keyChild.Set(e, nil); err != nil {
		t.Fatalf("typed nil child should be stored as null: %v", err)
	}
	if !keyChild.IsNull(e) {
		t.Fatalf("expected null child")
	}
	if err := e.Set(keyChild.ID, []*Entity{nil}); err == nil {
		t.Fatalf("expected object array rejection for scalar object field")
	}
}

func TestCheckValueRejectsUnencodableTimes(t *testing.T) {
	testlog.Start(t)
	late := time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := CheckValue(schema.DateTime, ok); err != nil {
		t.Fatalf("in-range time rejected: %v", err)
	}
	if err := CheckValue(schema.DateTimeNullable, late); !errors.Is(err, protocol.ErrUnsupportedValue) {
		t.Fatalf("scalar got=%v want=%v", err, protocol.ErrUnsupportedValue)
	}
	if err := CheckValue(schema.DateTimeArray, []time.Time{ok, late}); !errors.Is(err, protocol.ErrUnsupportedValue) {
		t.Fatalf("array got=%v want=%v", err, protocol.ErrUnsupportedValue)
	}
}

func TestNullsAndAccessors(t *testing.T) {
	testlog.Start(t)
	e := NewEntity(testType)
	if err := keyCount.Set(e, 3); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := keyCount.Value(e, -1); got != 3 {
		t.Fatalf("count got=%d", got)
	}
	if err := e.SetNull(keyCount.ID); err != nil {
		t.Fatalf("set null: %v", err)
	}
	if _, ok := keyCount.Get(e); ok {
		t.Fatalf("null must not read as a value")
	}
	if !keyCount.Has(e) || keyCount.Value(e, -1) != -1 {
		t.Fatalf("null field must stay present and yield the default")
	}
	if !e.Delete(keyCount.ID) || e.Has(keyCount.ID) {
		t.Fatalf("delete failed")
	}
	if !e.HasKeys(schema.FieldVersion.ID) || e.HasKeys(keyName.ID) {
		t.Fatalf("unexpected key presence: %v", e.IDs())
	}
}

func TestEqualIgnoresLifecycleStamps(t *testing.T) {
	testlog.Start(t)
	child := NewEntity(testType)
	keyName.Put(child, "leaf")

	a := NewEntity(testType)
	keyName.Put(a, "root")
	keyChild.Put(a, child)
	keyTags.Put(a, []string{"x"})

	b := NewEntity(testType)
	if err := keyName.Set(b, "root"); err != nil {
		t.Fatalf("set: %v", err)
	}
	copyChild := NewEntity(testType)
	keyName.Put(copyChild, "leaf")
	keyChild.Put(b, copyChild)
	keyTags.Put(b, []string{"x"})

	if !a.Equal(b) {
		t.Fatalf("expected equal entities:\n%s\n%s", a, b)
	}
	keyName.Put(copyChild, "other")
	if a.Equal(b) {
		t.Fatalf("nested difference not detected")
	}
}

func TestToBeDeletedAndString(t *testing.T) {
	testlog.Start(t)
	parent := &recordingParent{}
	e := NewEntity(testType)
	e.SetParent(parent)
	keyName.Put(e, "gamma")
	e.SetToBeDeleted()
	if !e.ToBeDeleted() || len(parent.seen) != 1 {
		t.Fatalf("delete flag not recorded")
	}
	e.ResetChanged()
	if e.ToBeDeleted() {
		t.Fatalf("reset must clear delete flag")
	}
	if s := e.String(); !strings.HasPrefix(s, "Widget{Count=1, State=Unchanged, Name='gamma'") {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestFactoryFallsBackToGenericBuilder(t *testing.T) {
	testlog.Start(t)
	f := NewFactory()
	parent := &recordingParent{}
	f.Register(testType.ID(), func(t *schema.Type) *Entity {
		e := NewEntity(t)
		e.SetParent(parent)
		return e
	})
	if got := f.Build(testType); got.Parent() != parent {
		t.Fatalf("registered builder not used")
	}
	other := schema.MustType(78, "Other")
	if got := f.Build(other); got.Type() != other || got.Parent() != nil {
		t.Fatalf("generic builder not used")
	}
	var nilFactory *Factory
	if got := nilFactory.Build(other); got.Type() != other {
		t.Fatalf("nil factory must build generic entities")
	}
}

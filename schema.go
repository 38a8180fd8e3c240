package itemdb

import (
	"fmt"

	"github.com/google/uuid"
)

type StorageKind int

const (
	StoreValue StorageKind = iota
	StoreRef
)

type Cardinality int

const (
	Single Cardinality = iota
	List
)

// Hook is an after-change callback declared on an attribute.
type Hook func(chg *Change) error

// Attribute is the resolved storage and validation policy of one attribute
// of a kind.
type Attribute struct {
	Name        string
	Storage     StorageKind
	Cardinality Cardinality
	Required    bool
	Indexed     bool
	NoInherit   bool
	Default     any
	HasDefault  bool
	AfterChange []Hook
	// Redirect makes this attribute an alias of another one.
	Redirect string
	// Verify, when set, checks values assigned while the view verifies.
	Verify func(v any) error
}

// Aspect names a schema-declared property of an attribute.
type Aspect int

const (
	AspectCardinality Aspect = iota
	AspectRequired
	AspectDefault
	AspectAfterChange
	AspectIndexed
	AspectRedirectTo
	AspectStorage
	AspectNoInherit
)

func (a *Attribute) aspect(aspect Aspect) (any, bool) {
	switch aspect {
	case AspectCardinality:
		return a.Cardinality, true
	case AspectRequired:
		return a.Required, true
	case AspectDefault:
		return a.Default, a.HasDefault
	case AspectAfterChange:
		return a.AfterChange, len(a.AfterChange) > 0
	case AspectIndexed:
		return a.Indexed, true
	case AspectRedirectTo:
		return a.Redirect, a.Redirect != ""
	case AspectStorage:
		return a.Storage, true
	case AspectNoInherit:
		return a.NoInherit, true
	}
	return nil, false
}

// Kind describes a class of items. Each kind is also persisted as a schema
// item so that items can refer to it by identifier.
type Kind struct {
	Name string
	// ID defaults to a name-derived identifier.
	ID         uuid.UUID
	Attributes []*Attribute
	// InheritFrom names the reference attribute whose target supplies
	// values this item lacks.
	InheritFrom string
	// OnDelete runs before an item of this kind is deleted.
	OnDelete func(item *Item) error

	attrs map[string]*Attribute
}

func (k *Kind) String() string {
	if k == nil {
		return "<nil kind>"
	}
	return k.Name
}

func (k *Kind) Attribute(name string) *Attribute {
	if k == nil {
		return nil
	}
	return k.attrs[name]
}

// resolve follows redirects.
func (k *Kind) resolve(name string) (string, *Attribute) {
	for range 8 {
		a := k.Attribute(name)
		if a == nil || a.Redirect == "" {
			return name, a
		}
		name = a.Redirect
	}
	panic(fmt.Errorf("itemdb: redirect loop in %v.%s", k, name))
}

// Schema is the set of kinds known to a store.
type Schema struct {
	kinds  []*Kind
	byName map[string]*Kind
	byID   map[uuid.UUID]*Kind
}

func NewSchema(kinds ...*Kind) *Schema {
	s := &Schema{
		byName: make(map[string]*Kind),
		byID:   make(map[uuid.UUID]*Kind),
	}
	for _, k := range kinds {
		s.AddKind(k)
	}
	return s
}

// AddKind registers a kind; it panics on duplicate names or identifiers
// since a schema is built once at startup.
func (s *Schema) AddKind(k *Kind) *Kind {
	if k.Name == "" {
		panic("itemdb: kind without a name")
	}
	if k.ID == uuid.Nil {
		k.ID = uuid.NewSHA1(kindNamespace, []byte(k.Name))
	}
	if s.byName[k.Name] != nil {
		panic(fmt.Errorf("itemdb: duplicate kind %q", k.Name))
	}
	if s.byID[k.ID] != nil {
		panic(fmt.Errorf("itemdb: duplicate kind id %v", k.ID))
	}
	k.attrs = make(map[string]*Attribute, len(k.Attributes))
	for _, a := range k.Attributes {
		if k.attrs[a.Name] != nil {
			panic(fmt.Errorf("itemdb: duplicate attribute %s.%s", k.Name, a.Name))
		}
		k.attrs[a.Name] = a
	}
	s.kinds = append(s.kinds, k)
	s.byName[k.Name] = k
	s.byID[k.ID] = k
	return k
}

func (s *Schema) Kind(name string) *Kind {
	return s.byName[name]
}

func (s *Schema) KindByID(id uuid.UUID) *Kind {
	return s.byID[id]
}

func (s *Schema) Kinds() []*Kind {
	return s.kinds
}

// verify checks an assignment against the attribute declaration.
func (a *Attribute) verify(v any) error {
	if v != nil {
		_, isList := v.(*ValueList)
		if isList != (a.Cardinality == List) {
			return fmt.Errorf("cardinality mismatch")
		}
		_, isRef := v.(*ItemRef)
		if isRef != (a.Storage == StoreRef) {
			return fmt.Errorf("storage mismatch")
		}
	} else if a.Required {
		return fmt.Errorf("required")
	}
	if a.Verify != nil {
		return a.Verify(v)
	}
	return nil
}

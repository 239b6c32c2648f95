package refstore

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// Column metadata keys checked by Binding.ValidateReference.
const (
	MetaReference     = "ref"
	MetaAnnotatorType = "annotatorType"
)

// ColumnMetadata is the key/value metadata attached to a column of
// annotations, such as the reference of the table that produced it.
type ColumnMetadata map[string]string

type BindingOptions struct {
	// AnnotatorType, if set, must match the "annotatorType" metadata of
	// validated columns.
	AnnotatorType string

	// CaseSensitive is the key policy of lookups through this binding.
	CaseSensitive bool
}

// Binding ties one consuming component to exactly one reference and
// routes its lookups through a ConnectionManager.
//
// A Binding is bound once. Asking it to switch to another reference is
// a ConfigurationError; components that legitimately change tables should
// use a Lease directly.
type Binding struct {
	lease *Lease
	opt   BindingOptions

	mu  sync.Mutex // serializes SetReference
	ref atomic.Pointer[Reference]
}

func NewBinding(mgr *ConnectionManager, opt BindingOptions) *Binding {
	if mgr == nil {
		panic("refstore: nil connection manager")
	}
	return &Binding{
		lease: mgr.NewLease(),
		opt:   opt,
	}
}

// SetReference binds b to ref. Binding to the same reference again does
// nothing.
func (b *Binding) SetReference(ref Reference) error {
	if ref.IsZero() {
		return configErrf(nil, "cannot bind to an empty reference")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur := b.ref.Load(); cur != nil {
		if *cur == ref {
			return nil
		}
		return configErrf(nil, "already bound to %v, cannot rebind to %v", *cur, ref)
	}
	b.ref.Store(&ref)
	return nil
}

func (b *Binding) Reference() Reference {
	if ref := b.ref.Load(); ref != nil {
		return *ref
	}
	return Reference{}
}

func (b *Binding) IsBound() bool {
	return !b.Reference().IsZero()
}

func (b *Binding) bound() (Reference, error) {
	ref := b.Reference()
	if ref.IsZero() {
		return ref, configErrf(nil, "no reference bound")
	}
	return ref, nil
}

// ValidateReference checks that a column was produced against the bound
// reference (and by the expected annotator type, if configured).
func (b *Binding) ValidateReference(meta ColumnMetadata) error {
	ref, err := b.bound()
	if err != nil {
		return err
	}
	expected := ref.String()
	if actual := meta[MetaReference]; actual != expected {
		return &ReferenceMismatchError{Expected: expected, Actual: actual, Msg: "column reference mismatch"}
	}
	if b.opt.AnnotatorType != "" {
		if actual := meta[MetaAnnotatorType]; actual != b.opt.AnnotatorType {
			return &ReferenceMismatchError{Expected: b.opt.AnnotatorType, Actual: actual, Msg: "column annotator type mismatch"}
		}
	}
	return nil
}

// Metadata returns the column metadata that ValidateReference accepts,
// for tagging columns this component produces.
func (b *Binding) Metadata() (ColumnMetadata, error) {
	ref, err := b.bound()
	if err != nil {
		return nil, err
	}
	meta := ColumnMetadata{MetaReference: ref.String()}
	if b.opt.AnnotatorType != "" {
		meta[MetaAnnotatorType] = b.opt.AnnotatorType
	}
	return meta, nil
}

// Connection returns the connection of the bound reference, materializing
// and opening the store on first use.
func (b *Binding) Connection(ctx context.Context) (*Connection, error) {
	ref, err := b.bound()
	if err != nil {
		return nil, err
	}
	return b.lease.Connection(ctx, ref, b.opt.CaseSensitive)
}

func (b *Binding) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := b.Connection(ctx)
	if err != nil {
		return nil, false, err
	}
	return conn.Get(key)
}

func (b *Binding) LookupPrefix(ctx context.Context, prefix string) iter.Seq2[Entry, error] {
	conn, err := b.Connection(ctx)
	if err != nil {
		return func(yield func(Entry, error) bool) {
			yield(Entry{}, err)
		}
	}
	return conn.PrefixScan(prefix)
}

// Close releases the binding's store. The binding stays bound and reopens
// the store on the next lookup.
func (b *Binding) Close() error {
	return b.lease.Release()
}

package refstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBinding_SetReference(t *testing.T) {
	m := setupCluster(t, DistributorOptions{}).worker(t)
	b := NewBinding(m, BindingOptions{})
	deepEqual(t, b.IsBound(), false)

	var ce *ConfigurationError
	if err := b.SetReference(Reference{}); !errors.As(err, &ce) {
		t.Errorf("** SetReference(zero) = %v, wanted ConfigurationError", err)
	}

	ref := Ref("gaz_v1", 1, 0)
	ensure(b.SetReference(ref))
	ensure(b.SetReference(ref))
	deepEqual(t, b.Reference(), ref)
	deepEqual(t, b.IsBound(), true)

	if err := b.SetReference(Ref("gaz_v1", 1, 1)); !errors.As(err, &ce) {
		t.Errorf("** rebinding = %v, wanted ConfigurationError", err)
	}
	deepEqual(t, b.Reference(), ref)
}

func TestBinding_Unbound(t *testing.T) {
	ctx := context.Background()
	m := setupCluster(t, DistributorOptions{}).worker(t)
	b := NewBinding(m, BindingOptions{})

	var ce *ConfigurationError
	if _, _, err := b.Lookup(ctx, "london"); !errors.As(err, &ce) {
		t.Errorf("** Lookup = %v, wanted ConfigurationError", err)
	}
	for _, err := range b.LookupPrefix(ctx, "lo") {
		if !errors.As(err, &ce) {
			t.Errorf("** LookupPrefix = %v, wanted ConfigurationError", err)
		}
	}
	if err := b.ValidateReference(ColumnMetadata{MetaReference: "gaz_v1@1.0"}); !errors.As(err, &ce) {
		t.Errorf("** ValidateReference = %v, wanted ConfigurationError", err)
	}
	if _, err := b.Metadata(); !errors.As(err, &ce) {
		t.Errorf("** Metadata = %v, wanted ConfigurationError", err)
	}
	ensure(b.Close())
}

func TestBinding_ValidateReference(t *testing.T) {
	m := setupCluster(t, DistributorOptions{}).worker(t)
	ref := Ref("gaz_v1", 1, 0)

	b := NewBinding(m, BindingOptions{})
	ensure(b.SetReference(ref))
	ensure(b.ValidateReference(ColumnMetadata{MetaReference: ref.String()}))

	tests := []struct {
		name   string
		opt    BindingOptions
		meta   ColumnMetadata
		actual string
	}{
		{"other version", BindingOptions{}, ColumnMetadata{MetaReference: Ref("gaz_v1", 1, 1).String()}, Ref("gaz_v1", 1, 1).String()},
		{"other name", BindingOptions{}, ColumnMetadata{MetaReference: Ref("gaz_v2", 1, 0).String()}, Ref("gaz_v2", 1, 0).String()},
		{"missing", BindingOptions{}, ColumnMetadata{}, ""},
		{"nil", BindingOptions{}, nil, ""},
		{"annotator type", BindingOptions{AnnotatorType: "ner"}, ColumnMetadata{MetaReference: ref.String(), MetaAnnotatorType: "pos"}, "pos"},
		{"annotator type missing", BindingOptions{AnnotatorType: "ner"}, ColumnMetadata{MetaReference: ref.String()}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBinding(m, tt.opt)
			ensure(b.SetReference(ref))
			err := b.ValidateReference(tt.meta)
			var me *ReferenceMismatchError
			if !errors.As(err, &me) {
				t.Fatalf("** ValidateReference = %v, wanted ReferenceMismatchError", err)
			}
			deepEqual(t, me.Actual, tt.actual)
		})
	}

	b = NewBinding(m, BindingOptions{AnnotatorType: "ner"})
	ensure(b.SetReference(ref))
	meta := must(b.Metadata())
	deepEqual(t, meta, ColumnMetadata{MetaReference: ref.String(), MetaAnnotatorType: "ner"})
	ensure(b.ValidateReference(meta))
}

func TestBinding_EndToEnd(t *testing.T) {
	ctx := context.Background()
	c := setupCluster(t, DistributorOptions{Compression: CompressionZstd})
	ref := Ref("gaz_v1", 1, 0)
	c.publish(t, ref, StringCodec(), false, gazRecords...)

	for _, m := range []*ConnectionManager{c.worker(t), c.worker(t)} {
		b := NewBinding(m, BindingOptions{})
		ensure(b.SetReference(ref))

		entries := collect(t, b.LookupPrefix(ctx, "lo"))
		deepEqual(t, entries, []Entry{{Key: "london", Value: []byte("loc")}})

		v, found, err := b.Lookup(ctx, "ACME")
		ensure(err)
		deepEqual(t, found, true)
		deepEqual(t, string(v), "org")

		_, found, err = b.Lookup(ctx, "Tokyo")
		ensure(err)
		deepEqual(t, found, false)

		conn := must(b.Connection(ctx))
		deepEqual(t, conn.Reference(), ref)

		ensure(b.Close())
		deepEqual(t, m.Stats(), ManagerStats{Opens: 1, Closes: 1, Hits: 3, Materialized: 1})

		// Bound bindings reopen after Close.
		_, found, err = b.Lookup(ctx, "paris")
		ensure(err)
		deepEqual(t, found, true)
		deepEqual(t, m.Stats().Materialized, uint64(1))
		deepEqual(t, m.Stats().MaterializeHits, uint64(1))
	}
}

func TestBinding_SharedStore(t *testing.T) {
	ctx := context.Background()
	c := setupCluster(t, DistributorOptions{})
	ref := Ref("gaz_v1", 1, 0)
	c.publish(t, ref, StringCodec(), false, gazRecords...)
	m := c.worker(t)

	a := NewBinding(m, BindingOptions{})
	b := NewBinding(m, BindingOptions{CaseSensitive: true})
	ensure(a.SetReference(ref))
	ensure(b.SetReference(ref))

	_, found, err := a.Lookup(ctx, "Berlin")
	ensure(err)
	deepEqual(t, found, true)
	_, found, err = b.Lookup(ctx, "Berlin")
	ensure(err)
	deepEqual(t, found, false)
	deepEqual(t, m.OpenCount.Load(), uint64(1))

	ensure(a.Close())
	deepEqual(t, m.CloseCount.Load(), uint64(0))
	ensure(b.Close())
	deepEqual(t, m.CloseCount.Load(), uint64(1))
}

func TestBinding_LookupsSkipSwitchLocks(t *testing.T) {
	ctx := context.Background()
	c := setupCluster(t, DistributorOptions{})
	ref := Ref("gaz_v1", 1, 0)
	c.publish(t, ref, StringCodec(), false, gazRecords...)
	m := c.worker(t)

	b := NewBinding(m, BindingOptions{})
	ensure(b.SetReference(ref))
	_, _, err := b.Lookup(ctx, "London")
	ensure(err)

	// Hold every lock that guards opening, switching and releasing.
	b.mu.Lock()
	b.lease.mu.Lock()
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		b.lease.mu.Unlock()
		b.mu.Unlock()
	}()

	done := make(chan []Entry, 1)
	go func() {
		var result []Entry
		for e, err := range b.LookupPrefix(ctx, "pa") {
			if err != nil {
				break
			}
			result = append(result, e)
		}
		if _, found, err := b.Lookup(ctx, "Berlin"); err != nil || !found {
			result = nil
		}
		done <- result
	}()
	select {
	case result := <-done:
		deepEqual(t, result, []Entry{{Key: "paris", Value: []byte("loc")}})
	case <-time.After(5 * time.Second):
		t.Fatal("** lookups blocked on a held switch lock")
	}
}

package main

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/andreyvit/refstore"
	"github.com/andreyvit/refstore/source"
)

func (a *app) buildCmd() *cobra.Command {
	var (
		refStr        string
		format        string
		dim           int
		query         string
		out           string
		caseSensitive bool
		skipHeader    bool
		publish       bool
	)
	cmd := &cobra.Command{
		Use:   "build <input>",
		Short: "Build a store from a TSV, word-vector or SQLite source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref, err := refstore.ParseReference(refStr)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(a.cfg.ScratchDir, "build", ref.Dir(), refstore.StoreFile)
			}

			var codec refstore.Codec
			var records iter.Seq2[refstore.Record, error]
			switch format {
			case "tsv":
				codec = refstore.StringCodec()
				f, err := source.OpenFile(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				records = source.TSV(f, source.TSVOptions{SkipHeader: skipHeader})
			case "vectors":
				if dim <= 0 {
					return errors.New("--dim is required for vectors")
				}
				codec = refstore.VectorCodec(dim)
				f, err := source.OpenFile(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				records = source.WordVectors(f, dim)
			case "sqlite":
				if query == "" {
					return errors.New("--query is required for sqlite")
				}
				codec = refstore.StringCodec()
				db, err := sql.Open("sqlite", args[0])
				if err != nil {
					return err
				}
				defer db.Close()
				records = source.SQL(ctx, db, query)
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			desc, err := refstore.Build(ctx, out, records, a.cfg.BuildOptions(ref, codec, caseSensitive, a.logger))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d keys (%d duplicates) in %s\n", ref, desc.KeyCount, desc.Duplicates, out)

			if publish {
				dist, err := a.distributor(ctx)
				if err != nil {
					return err
				}
				dir, err := dist.Publish(ctx, out, ref)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", dir)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&refStr, "ref", "r", "", "reference to build, name@lib.data")
	cmd.Flags().StringVarP(&format, "format", "f", "tsv", "input format: tsv, vectors, sqlite")
	cmd.Flags().IntVar(&dim, "dim", 0, "vector dimension")
	cmd.Flags().StringVar(&query, "query", "", "SQL query returning (key, value) rows")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output store file")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "keep key case")
	cmd.Flags().BoolVar(&skipHeader, "skip-header", false, "skip the first TSV line")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish after building")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func (a *app) publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <store-file>...",
		Short: "Publish built stores to the cluster",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dist, err := a.distributor(ctx)
			if err != nil {
				return err
			}
			for _, path := range args {
				s, err := refstore.OpenStore(path, refstore.StoreOptions{Logger: a.logger})
				if err != nil {
					return err
				}
				ref := s.Reference()
				_ = s.Close()
				dir, err := dist.Publish(ctx, path, ref)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref, dir)
			}
			return nil
		},
	}
}

func (a *app) materializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "materialize <ref>...",
		Short: "Download local replicas into the scratch directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			refs, err := parseRefs(args)
			if err != nil {
				return err
			}
			dist, err := a.distributor(ctx)
			if err != nil {
				return err
			}
			if err := dist.Prefetch(ctx, a.cfg.ScratchDir, refs...); err != nil {
				return err
			}
			for _, ref := range refs {
				path, err := dist.Materialize(ctx, ref, a.cfg.ScratchDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref, path)
			}
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List published references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dist, err := a.distributor(ctx)
			if err != nil {
				return err
			}
			refs, err := dist.Published(ctx)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				desc, err := dist.Lookup(ctx, ref)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d keys\t%v\t%d bytes\t%s\n", ref, desc.KeyCount, desc.Codec, desc.Size, desc.Compression)
			}
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	var caseSensitive bool
	cmd := &cobra.Command{
		Use:   "get <ref> <key>...",
		Short: "Look up keys",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref, err := refstore.ParseReference(args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager(ctx)
			if err != nil {
				return err
			}
			defer mgr.Close()
			conn, err := mgr.Connection(ctx, ref, caseSensitive)
			if err != nil {
				return err
			}
			for _, key := range args[1:] {
				raw, found, err := conn.Get(key)
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t<missing>\n", key)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, formatValue(conn.Descriptor().Codec, raw))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "look keys up without lowercasing")
	return cmd
}

func (a *app) scanCmd() *cobra.Command {
	var (
		caseSensitive bool
		reverse       bool
		limit         int
	)
	cmd := &cobra.Command{
		Use:   "scan <ref> [prefix]",
		Short: "List entries, optionally by key prefix",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref, err := refstore.ParseReference(args[0])
			if err != nil {
				return err
			}
			r := refstore.AllKeys()
			if len(args) > 1 {
				r = refstore.PrefixRange(args[1])
			}
			if reverse {
				r = r.Reversed()
			}
			mgr, err := a.manager(ctx)
			if err != nil {
				return err
			}
			defer mgr.Close()
			conn, err := mgr.Connection(ctx, ref, caseSensitive)
			if err != nil {
				return err
			}
			codec := conn.Descriptor().Codec
			var n int
			for e, err := range conn.Scan(r) {
				if err != nil {
					return err
				}
				if limit > 0 && n >= limit {
					break
				}
				n++
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Key, formatValue(codec, e.Value))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "match the prefix without lowercasing")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "descending key order")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries to print")
	return cmd
}

func (a *app) inspectCmd() *cobra.Command {
	var (
		rows  bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "inspect <store-file|ref>",
		Short: "Print a store's descriptor and page statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.resolveStore(cmd, args[0])
			if err != nil {
				return err
			}
			s, err := refstore.OpenStore(path, refstore.StoreOptions{Logger: a.logger})
			if err != nil {
				return err
			}
			defer s.Close()
			flags := refstore.DumpHeader | refstore.DumpStats
			if rows {
				flags |= refstore.DumpRows
			}
			return s.Dump(cmd.OutOrStdout(), flags, limit)
		},
	}
	cmd.Flags().BoolVar(&rows, "rows", false, "print entries")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to print")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <ref>...",
		Short: "Re-check local replicas against their checksums",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			refs, err := parseRefs(args)
			if err != nil {
				return err
			}
			dist, err := a.distributor(ctx)
			if err != nil {
				return err
			}
			var errs []error
			for _, ref := range refs {
				path, err := dist.Materialize(ctx, ref, a.cfg.ScratchDir)
				if err == nil {
					err = dist.Verify(path)
				}
				if err != nil {
					errs = append(errs, err)
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tFAILED\t%v\n", ref, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\n", ref)
			}
			return errors.Join(errs...)
		},
	}
}

// resolveStore accepts either a store file or a reference, materializing
// the latter.
func (a *app) resolveStore(cmd *cobra.Command, arg string) (string, error) {
	if _, err := os.Stat(arg); err == nil {
		return arg, nil
	}
	ref, err := refstore.ParseReference(arg)
	if err != nil {
		return "", fmt.Errorf("%s is neither a file nor a reference", arg)
	}
	dist, err := a.distributor(cmd.Context())
	if err != nil {
		return "", err
	}
	return dist.Materialize(cmd.Context(), ref, a.cfg.ScratchDir)
}

func formatValue(codec refstore.Codec, raw []byte) string {
	switch codec.Kind {
	case refstore.CodecVector:
		vec, err := codec.DecodeVector(raw)
		if err != nil {
			return fmt.Sprintf("<%v>", err)
		}
		parts := make([]string, len(vec))
		for i, f := range vec {
			parts[i] = fmt.Sprintf("%g", f)
		}
		return strings.Join(parts, " ")
	case refstore.CodecMsgPack:
		var v any
		if err := codec.DecodeValue(raw, &v); err != nil {
			return fmt.Sprintf("<%v>", err)
		}
		return fmt.Sprintf("%v", v)
	default:
		return string(raw)
	}
}

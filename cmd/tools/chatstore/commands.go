package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/companion/backend/internal/model/locale"
	"github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/internal/storage"
)

func (a *app) dumpCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print stored values as a JSON object of raw strings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return a.dump(cmd.Context(), s, key)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "print only this key's raw value")
	return cmd
}

func (a *app) dump(ctx context.Context, s storage.Store, key string) error {
	if key != "" {
		v, found, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key %q not found", key)
		}
		_, err = fmt.Fprintln(a.out, v)
		return err
	}

	keys := append([]string(nil), chat.Keys...)
	if l, ok := s.(storage.Lister); ok {
		all, err := l.Keys(ctx)
		if err != nil {
			return err
		}
		keys = all
	}

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		v, found, err := s.Get(ctx, k)
		if err != nil {
			return err
		}
		if found {
			values[k] = v
		}
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(values)
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Write every key of a JSON object {key: rawString} into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return a.importValues(cmd.Context(), s, data)
		},
	}
}

func (a *app) importValues(ctx context.Context, s storage.Store, data []byte) error {
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("import file must be a JSON object of string values: %w", err)
	}

	known := make(map[string]bool, len(chat.Keys))
	for _, k := range chat.Keys {
		known[k] = true
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	log := a.logger()
	entries := make([]storage.Entry, 0, len(keys))
	for _, k := range keys {
		if !known[k] {
			log.Warn().Str("key", k).Msg("importing key the app does not read")
		}
		entries = append(entries, storage.Entry{Key: k, Value: values[k]})
	}

	var err error
	if b, ok := s.(storage.Batcher); ok {
		err = b.Apply(ctx, entries)
	} else {
		err = storage.ApplyInOrder(ctx, s, entries)
	}
	if err != nil {
		return fmt.Errorf("write imported values: %w", err)
	}
	_, err = fmt.Fprintf(a.out, "imported %d keys\n", len(entries))
	return err
}

func (a *app) repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Load the store, fix chats left in both lists by an interrupted move, and write the result back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return a.repair(cmd.Context(), s)
		},
	}
}

func (a *app) repair(ctx context.Context, s storage.Store) error {
	session := chat.NewService(s, locale.NewMemoryStore(locale.Seed()), chat.Config{}, a.logger())
	if err := session.Init(ctx); err != nil {
		return err
	}

	rep, err := session.Repair(ctx)
	if err != nil {
		_ = session.Dispose(ctx)
		return err
	}
	if err := session.Dispose(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

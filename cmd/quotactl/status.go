package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"codeberg.org/lessonforge/server/internal/config"
	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/quota"
)

type statusReport struct {
	ClientID  string           `json:"client_id"`
	Usage     quota.UsageState `json:"usage"`
	Limits    quota.Limits     `json:"limits"`
	Remaining map[string]int   `json:"remaining"`
}

// prints today's usage of one client
func Status(ctx context.Context, out io.Writer, backend kv.Store, limits quota.Limits, flags config.Flags) error {
	store := quota.NewStore(backend, quota.Namespace(flags.ClientID), limits)

	usage, err := store.Load(ctx)
	if err != nil {
		return err
	}

	report := statusReport{
		ClientID: flags.ClientID,
		Usage:    usage,
		Limits:   limits,
		Remaining: map[string]int{
			string(quota.KindGenerations): max(limits.Generations-usage.Generations, 0),
			string(quota.KindImages):      max(limits.Images-usage.Images, 0),
		},
	}

	if flags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	st := newStyles(out)
	fmt.Fprintln(out, st.label.Render("client")+st.value.Render(report.ClientID))
	fmt.Fprintln(out, st.label.Render("date")+st.value.Render(usage.Date))

	t := st.table("KIND", "USED", "LIMIT", "REMAINING")
	for _, kind := range []quota.Kind{quota.KindGenerations, quota.KindImages} {
		left := report.Remaining[string(kind)]
		t.Row(string(kind), strconv.Itoa(usage.Count(kind)), strconv.Itoa(limits.For(kind)), st.remaining(left, limits.For(kind)).Render(strconv.Itoa(left)))
	}

	fmt.Fprintln(out, t.Render())
	return nil
}

// zeroes today's usage of one client
func Reset(ctx context.Context, out io.Writer, backend kv.Store, limits quota.Limits, flags config.Flags) error {
	store := quota.NewStore(backend, quota.Namespace(flags.ClientID), limits)
	tracker := quota.NewTracker(ctx, store)

	if err := tracker.Reset(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "usage of %s reset for %s\n", flags.ClientID, store.Today())
	return nil
}

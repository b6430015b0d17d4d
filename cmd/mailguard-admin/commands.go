package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/jobs"
	"github.com/mikey/mailguard/internal/trustlist"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type resyncCmd struct {
	tenantID int64
}

func (*resyncCmd) Name() string     { return "resync" }
func (*resyncCmd) Synopsis() string { return "rebuild the cache projection from the store" }
func (*resyncCmd) Usage() string {
	return `resync [-tenant <id>]:
	re-project every allow and deny entry, optionally for one tenant
`
}

func (r *resyncCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&r.tenantID, "tenant", 0, "only resync this tenant")
}

func (r *resyncCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withContainer(func(projector *cachesync.Projector) error {
		var tenantID *int64
		if r.tenantID > 0 {
			tenantID = &r.tenantID
		}
		ctx, cancel := context.WithTimeout(ctx, projector.ResyncTimeout())
		defer cancel()

		stats, err := projector.ResyncAll(ctx, tenantID)
		if err != nil {
			return err
		}
		return printJSON(stats)
	})
}

type lookupCmd struct {
	tenantID int64
	typ      string
}

func (*lookupCmd) Name() string     { return "lookup" }
func (*lookupCmd) Synopsis() string { return "show whether a value is allowed or denied" }
func (*lookupCmd) Usage() string {
	return `lookup -tenant <id> [-type email|domain|ip] <value>:
	resolve a value against the allow and deny lists; deny wins
`
}

func (l *lookupCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&l.tenantID, "tenant", 0, "tenant id")
	f.StringVar(&l.typ, "type", string(core.EntryEmail), "entry type: email, domain or ip")
}

func (l *lookupCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	value := f.Arg(0)
	if value == "" || l.tenantID <= 0 {
		return usage("tenant and value required")
	}
	return withContainer(func(trust *trustlist.Service) error {
		key := trustlist.Key{TenantID: l.tenantID, Type: core.EntryType(l.typ), Value: value}
		disposition, err := trust.Lookup(ctx, key)
		if err != nil {
			return err
		}
		fmt.Println(disposition)
		return nil
	})
}

type purgeDenyCmd struct{}

func (*purgeDenyCmd) Name() string     { return "purge-deny" }
func (*purgeDenyCmd) Synopsis() string { return "remove stale auto-created deny entries" }
func (*purgeDenyCmd) Usage() string {
	return `purge-deny:
	delete auto-sourced deny entries past cleanup.deny_max_age with fewer
	than cleanup.deny_min_hits hits, and retract their cache keys
`
}

func (*purgeDenyCmd) SetFlags(f *flag.FlagSet) {}

func (*purgeDenyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withContainer(func(cleaner *jobs.Cleaner) error {
		purged, err := cleaner.PurgeDeny(ctx)
		if err != nil {
			return err
		}
		for _, e := range purged {
			fmt.Printf("%d\t%d\t%s\t%s\t%s\n", e.ID, e.TenantID, e.Type, e.Value, e.Source)
		}
		fmt.Printf("purged %d deny entries\n", len(purged))
		return nil
	})
}

type purgeQuarantineCmd struct{}

func (*purgeQuarantineCmd) Name() string     { return "purge-quarantine" }
func (*purgeQuarantineCmd) Synopsis() string { return "remove quarantined messages past retention" }
func (*purgeQuarantineCmd) Usage() string {
	return `purge-quarantine:
	delete quarantined messages whose expires_at has passed
`
}

func (*purgeQuarantineCmd) SetFlags(f *flag.FlagSet) {}

func (*purgeQuarantineCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withContainer(func(cleaner *jobs.Cleaner) error {
		n, err := cleaner.PurgeQuarantine(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d quarantined messages\n", n)
		return nil
	})
}

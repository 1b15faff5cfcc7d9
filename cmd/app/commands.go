package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/starford/mnemo/internal"
	"github.com/starford/mnemo/internal/answer"
	"github.com/starford/mnemo/internal/capture"
	"github.com/starford/mnemo/internal/mcpserver"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/retrieval"
	"github.com/starford/mnemo/internal/settings"
	pkgconfig "github.com/starford/mnemo/pkg/config"
)

func expandedPath(p string) string { return pkgconfig.ExpandHome(p) }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func parseSources(values []string) ([]models.SourceType, error) {
	var out []models.SourceType
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			src, err := models.ParseSourceType(part)
			if err != nil {
				return nil, err
			}
			out = append(out, src)
		}
	}
	return out, nil
}

func captureCommand() *cli.Command {
	return &cli.Command{
		Name:      "capture",
		Usage:     "Store one activity event (used by shell hooks)",
		ArgsUsage: "<content> (or - to read stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Value: string(models.SourceShell), Usage: "clipboard, shell, file or note"},
			&cli.StringFlag{Name: "cwd", Usage: "Working directory of the command"},
			&cli.StringFlag{Name: "user", Usage: "User that ran the command"},
			&cli.StringFlag{Name: "host", Usage: "Host the command ran on"},
			&cli.StringFlag{Name: "path", Usage: "File path for file captures"},
			&cli.BoolFlag{Name: "json", Usage: "Print the outcome as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			src, err := models.ParseSourceType(cmd.String("source"))
			if err != nil {
				return err
			}
			content := strings.Join(cmd.Args().Slice(), " ")
			if content == "" || content == "-" {
				data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = string(data)
			}

			core, err := openCore(ctx, cmd, internal.WithLiteralOnly())
			if err != nil {
				return err
			}
			defer core.Close()

			out := core.Service.Capture(ctx, capture.Event{
				Content: content,
				Source:  src,
				Context: models.Context{
					Cwd:  cmd.String("cwd"),
					User: cmd.String("user"),
					Host: cmd.String("host"),
					Path: cmd.String("path"),
				},
				Timestamp: time.Now(),
			})
			if cmd.Bool("json") {
				return printJSON(os.Stdout, out)
			}
			switch out.Status {
			case capture.StatusStored:
				fmt.Printf("stored %d\n", out.ID)
			case capture.StatusFailed:
				return fmt.Errorf("capture failed: %s", out.Reason)
			default:
				fmt.Printf("%s %s\n", out.Status, out.Reason)
			}
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the history",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(retrieval.ModeAuto), Usage: "literal, semantic or auto"},
			&cli.StringSliceFlag{Name: "source", Aliases: []string{"s"}, Usage: "Restrict to source types"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum results (default: search.max_results)"},
			&cli.BoolFlag{Name: "json", Usage: "Print results as JSON"},
			&cli.StringFlag{Name: "cwd", Usage: "Rank entries captured in or near this directory first"},
			&cli.BoolFlag{Name: "here", Usage: "Same as --cwd with the current directory"},
			&cli.StringFlag{Name: "since", Usage: "Only entries captured at or after this time (RFC3339 or YYYY-MM-DD)"},
			&cli.StringFlag{Name: "until", Usage: "Only entries captured before this time (RFC3339 or YYYY-MM-DD)"},
			&cli.StringFlag{Name: "window", Aliases: []string{"w"}, Usage: "today, yesterday, week or month"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mode, err := retrieval.ParseMode(cmd.String("mode"))
			if err != nil {
				return err
			}
			sources, err := parseSources(cmd.StringSlice("source"))
			if err != nil {
				return err
			}
			q, err := scopeFlags(cmd, time.Now())
			if err != nil {
				return err
			}
			q.Text = strings.Join(cmd.Args().Slice(), " ")
			q.Mode = mode
			q.Sources = sources
			q.Limit = int(cmd.Int("limit"))

			core, err := openCore(ctx, cmd)
			if err != nil {
				return err
			}
			defer core.Close()

			resp, err := core.Service.Search(ctx, q)
			if cmd.Bool("json") {
				if perr := printJSON(os.Stdout, resp); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			if len(resp.Results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for _, r := range resp.Results {
				fmt.Printf("[%d] %.2f %-9s %s  %s\n", r.Entry.ID, r.Score, r.Entry.Source,
					r.Entry.Timestamp.Local().Format("2006-01-02 15:04"), oneLine(r.Entry.Content))
			}
			return nil
		},
	}
}

// scopeFlags reads the directory and time window flags shared by search and ask.
func scopeFlags(cmd *cli.Command, now time.Time) (retrieval.Query, error) {
	cwd := cmd.String("cwd")
	if cwd == "" && cmd.Bool("here") {
		wd, err := os.Getwd()
		if err != nil {
			return retrieval.Query{}, err
		}
		cwd = wd
	}
	return parseScope(cwd, cmd.String("since"), cmd.String("until"), cmd.String("window"), now)
}

func parseScope(cwd, since, until, window string, now time.Time) (retrieval.Query, error) {
	q := retrieval.Query{Cwd: cwd}
	var err error
	if q.Since, err = parseWhen(since, now.Location()); err != nil {
		return q, fmt.Errorf("--since: %w", err)
	}
	if q.Until, err = parseWhen(until, now.Location()); err != nil {
		return q, fmt.Errorf("--until: %w", err)
	}
	if err := q.SetWindow(window, now); err != nil {
		return q, err
	}
	return q, nil
}

// parseWhen accepts an RFC3339 time or a date, which means local midnight.
func parseWhen(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 120 {
		return string(r[:119]) + "…"
	}
	return s
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question from the history with the local language model",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the answer as JSON"},
			&cli.StringFlag{Name: "cwd", Usage: "Rank entries captured in or near this directory first"},
			&cli.BoolFlag{Name: "here", Usage: "Same as --cwd with the current directory"},
			&cli.StringFlag{Name: "since", Usage: "Only entries captured at or after this time (RFC3339 or YYYY-MM-DD)"},
			&cli.StringFlag{Name: "until", Usage: "Only entries captured before this time (RFC3339 or YYYY-MM-DD)"},
			&cli.StringFlag{Name: "window", Aliases: []string{"w"}, Usage: "today, yesterday, week or month"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			q, err := scopeFlags(cmd, time.Now())
			if err != nil {
				return err
			}

			core, err := openCore(ctx, cmd)
			if err != nil {
				return err
			}
			defer core.Close()

			ans, err := core.Service.Ask(ctx, strings.Join(cmd.Args().Slice(), " "),
				answer.WithCwd(q.Cwd), answer.WithWindow(q.Since, q.Until))
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(os.Stdout, ans)
			}
			fmt.Println(ans.Text)
			if ans.Degraded {
				fmt.Fprintf(os.Stderr, "\n(model unavailable: %s)\n", ans.ProviderError)
			}
			if len(ans.UsedEntries) > 0 {
				ids := make([]string, len(ans.UsedEntries))
				for i, id := range ans.UsedEntries {
					ids[i] = fmt.Sprint(id)
				}
				fmt.Printf("\nsources: %s\n", strings.Join(ids, ", "))
			}
			return nil
		},
	}
}

func cleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Delete history entries",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "before", Usage: "Delete entries captured before this RFC3339 time"},
			&cli.DurationFlag{Name: "older-than", Usage: "Delete entries older than this duration (e.g. 720h)"},
			&cli.BoolFlag{Name: "all", Usage: "Delete every entry"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var before *time.Time
			switch {
			case cmd.String("before") != "":
				t, err := time.Parse(time.RFC3339, cmd.String("before"))
				if err != nil {
					return fmt.Errorf("--before: %w", err)
				}
				before = &t
			case cmd.Duration("older-than") > 0:
				t := time.Now().Add(-cmd.Duration("older-than"))
				before = &t
			case cmd.Bool("all"):
			default:
				return errors.New("one of --before, --older-than or --all is required")
			}

			core, err := openCore(ctx, cmd, internal.WithLiteralOnly())
			if err != nil {
				return err
			}
			defer core.Close()

			n, err := core.Service.CleanData(ctx, before)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d entries\n", n)
			return nil
		},
	}
}

func privacyCommand() *cli.Command {
	rule := func(add bool) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return errors.New("usage: <category> <pattern>")
			}
			core, err := openCore(ctx, cmd, internal.WithLiteralOnly())
			if err != nil {
				return err
			}
			defer core.Close()

			category, pattern := cmd.Args().Get(0), cmd.Args().Get(1)
			if add {
				_, err = core.Service.AddPrivacyRule(category, pattern)
			} else {
				_, err = core.Service.RemovePrivacyRule(category, pattern)
			}
			if err != nil {
				return err
			}
			return printYAML(os.Stdout, core.Service.GetPrivacyConfig())
		}
	}
	return &cli.Command{
		Name:  "privacy",
		Usage: "Show or edit the privacy rules",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the active rules",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					core, err := openCore(ctx, cmd, internal.WithLiteralOnly())
					if err != nil {
						return err
					}
					defer core.Close()
					return printYAML(os.Stdout, core.Service.GetPrivacyConfig())
				},
			},
			{
				Name:      "add",
				Usage:     "Add a rule",
				ArgsUsage: "<contains|starts_with|ends_with|regex|exclude_folders> <pattern>",
				Action:    rule(true),
			},
			{
				Name:      "remove",
				Usage:     "Remove a rule",
				ArgsUsage: "<category> <pattern>",
				Action:    rule(false),
			},
		},
	}
}

// settableSections are the preference sections `settings set` can change.
// Keys without a section prefix belong to "settings".
var settableSections = []string{"settings", "search", "llm"}

// applySetting sets one key=value pair on prefs. The value is parsed as
// YAML so booleans, numbers and durations take their natural form.
func applySetting(prefs *settings.Preferences, assignment string) error {
	key, value, ok := strings.Cut(assignment, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expected key=value, got %q", assignment)
	}
	section, field, found := strings.Cut(strings.TrimSpace(key), ".")
	if !found {
		section, field = "settings", section
	}

	var target any
	switch section {
	case "settings":
		target = &prefs.Settings
	case "search":
		target = &prefs.Search
	case "llm":
		target = &prefs.LLM
	default:
		return fmt.Errorf("unknown section %q (want one of %s)", section, strings.Join(settableSections, ", "))
	}

	var known map[string]any
	raw, err := yaml.Marshal(target)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, &known); err != nil {
		return err
	}
	if _, ok := known[field]; !ok {
		return fmt.Errorf("unknown key %s.%s", section, field)
	}

	doc := yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: field},
		{Kind: yaml.ScalarNode, Value: strings.TrimSpace(value)},
	}}
	if err := doc.Decode(target); err != nil {
		return fmt.Errorf("%s.%s: %w", section, field, err)
	}
	return nil
}

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change preferences",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print capture, search and llm preferences",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					core, err := openCore(ctx, cmd, internal.WithLiteralOnly())
					if err != nil {
						return err
					}
					defer core.Close()
					snap := core.Settings.Snapshot()
					llm := snap.LLM
					if llm.APIKey != "" {
						llm.APIKey = "********"
					}
					return printYAML(os.Stdout, map[string]any{
						"settings": snap.Settings,
						"search":   snap.Search,
						"llm":      llm,
					})
				},
			},
			{
				Name:      "set",
				Usage:     "Change preferences, e.g. shell_limit=2000 search.similarity_threshold=0.6",
				ArgsUsage: "<key=value>...",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() == 0 {
						return errors.New("at least one key=value is required")
					}
					core, err := openCore(ctx, cmd, internal.WithLiteralOnly())
					if err != nil {
						return err
					}
					defer core.Close()

					_, err = core.Settings.Update(func(p *settings.Preferences) error {
						for _, a := range cmd.Args().Slice() {
							if err := applySetting(p, a); err != nil {
								return err
							}
						}
						return nil
					})
					if err != nil {
						return err
					}
					fmt.Println("saved")
					return nil
				},
			},
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print corpus and index statistics",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			core, err := openCore(ctx, cmd)
			if err != nil {
				return err
			}
			defer core.Close()
			st, err := core.Service.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, st)
		},
	}
}

func reindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Give entries that failed to embed another chance",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			core, err := openCore(ctx, cmd, internal.WithLiteralOnly())
			if err != nil {
				return err
			}
			defer core.Close()
			n, err := core.Service.RetryFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d entries queued for indexing\n", n)
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the history to MCP clients over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			core, err := openCore(ctx, cmd)
			if err != nil {
				return err
			}
			defer core.Close()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			if core.Indexer != nil {
				go func() {
					_ = core.Indexer.Run(ctx)
				}()
			}
			go func() {
				_ = core.Pipeline.RunSweeper(ctx)
			}()
			return mcpserver.New(core.Service, version).ServeStdio()
		},
	}
}

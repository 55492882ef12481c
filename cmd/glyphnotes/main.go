// Command glyphnotes is a terminal front end for the note store. Every
// command goes through the same editing session and tag registry a UI would
// use.
//
// Usage:
//
//	glyphnotes list [-pinned] [-q query] [-sort edited|created]
//	glyphnotes show -id N [-html]
//	glyphnotes recent
//	glyphnotes tags [-q query]
//	glyphnotes new -title T [-content C] [-tags a,b] [-category C] [-pin]
//	glyphnotes edit -id N [-title T] [-content C] [-tags a,b] [-category C]
//	glyphnotes pin -id N
//	glyphnotes delete -id N
//	glyphnotes delete-tag -tag T
//	glyphnotes watch
//	glyphnotes env
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/glyphnotes/internal/clock"
	"github.com/kuitang/glyphnotes/internal/config"
	"github.com/kuitang/glyphnotes/internal/db"
	"github.com/kuitang/glyphnotes/internal/editor"
	"github.com/kuitang/glyphnotes/internal/errs"
	"github.com/kuitang/glyphnotes/internal/notes"
	"github.com/kuitang/glyphnotes/internal/obs"
	"github.com/kuitang/glyphnotes/internal/tags"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app holds the wired collaborators for one invocation.
type app struct {
	cfg      *config.Config
	store    *db.Store
	registry *tags.Registry
	stdout   io.Writer
	now      func() time.Time
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	cmd, rest := args[0], args[1:]
	if cmd == "env" {
		config.Usage(stdout)
		return 0
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage(stdout)
		return 0
	}

	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	closeLog, err := obs.Init(cfg.LogOptions())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer closeLog()

	ctx = obs.WithSession(ctx, obs.NewSessionID())
	ctx = obs.WithCommand(ctx, cmd)
	log := obs.From(ctx).With("pkg", "main")

	store, err := db.Open(ctx, db.Options{
		Path:        cfg.DatabasePath,
		Seed:        cfg.Seed,
		OpenRetries: cfg.OpenRetries,
	})
	if err != nil {
		log.Error("failed to open database", "error", err)
		fmt.Fprintln(stderr, "error: cannot open the note database")
		return errs.ExitCode(errs.Unavailable)
	}
	defer store.Close()

	fanout := []tags.Option{tags.WithConcurrency(cfg.FanoutConcurrency)}
	if cfg.FanoutRPS > 0 {
		fanout = append(fanout, tags.WithLimiter(rate.NewLimiter(rate.Limit(cfg.FanoutRPS), 1)))
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		registry: tags.NewRegistry(store, fanout...),
		stdout:   stdout,
		now:      time.Now,
	}

	if err := a.dispatch(ctx, cmd, rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		code := errs.CodeOf(err)
		log.Warn("command failed", "code", code, "error", err)
		fmt.Fprintf(stderr, "error: %s\n", errs.MessageOf(err))
		return errs.ExitCode(code)
	}
	return 0
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list":
		return a.list(ctx, args)
	case "show":
		return a.show(ctx, args)
	case "recent":
		return a.recent(ctx)
	case "tags":
		return a.tags(ctx, args)
	case "new":
		return a.newNote(ctx, args)
	case "edit":
		return a.edit(ctx, args)
	case "pin":
		return a.pin(ctx, args)
	case "delete":
		return a.deleteNote(ctx, args)
	case "delete-tag":
		return a.deleteTag(ctx, args)
	case "watch":
		return a.watch(ctx)
	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown command %q", cmd))
	}
}

func (a *app) session(ctx context.Context) *editor.Session {
	return editor.New(a.store,
		editor.WithDebounce(a.cfg.Debounce),
		editor.WithRegistry(a.registry),
		editor.WithContext(ctx),
	)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errs.Wrap(errs.InvalidArgument, err.Error(), err)
	}
	return nil
}

func requireID(id int64) error {
	if id <= 0 {
		return errs.New(errs.InvalidArgument, "-id is required")
	}
	return nil
}

func splitTags(s string) []string {
	return notes.NormalizeTags(strings.Split(s, ","))
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	pinned := fs.Bool("pinned", false, "only pinned notes")
	query := fs.String("q", "", "filter by text in title, content or tags")
	sortBy := fs.String("sort", "edited", "edited or created")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	list, err := a.store.List(ctx)
	if err != nil {
		return errs.Wrap(errs.Persistence, "failed to list notes", err)
	}
	switch *sortBy {
	case "edited":
		notes.SortByLastEdit(list)
	case "created":
		notes.SortByCreation(list)
	default:
		return errs.New(errs.InvalidArgument, "-sort must be edited or created")
	}
	if *pinned {
		list = notes.Pinned(list)
	}
	list = notes.Filter(list, *query)

	now := a.now()
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPIN\tTITLE\tTAGS\tEDITED")
	for _, n := range list {
		pin := ""
		if n.IsPinned {
			pin = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			n.ID, pin, notes.DisplayTitle(n), strings.Join(n.Tags, ","), clock.FormatRelative(n.LastEditDate, now))
	}
	return tw.Flush()
}

func (a *app) show(ctx context.Context, args []string) error {
	fs := newFlagSet("show")
	id := fs.Int64("id", 0, "note id")
	asHTML := fs.Bool("html", false, "render content as sanitized HTML")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}

	n, err := a.store.Get(ctx, *id)
	if err != nil {
		if errors.Is(err, notes.ErrNotFound) {
			return errs.Wrap(errs.NotFound, fmt.Sprintf("note %d not found", *id), err)
		}
		return errs.Wrap(errs.Persistence, "failed to load note", err)
	}
	a.printNote(n, *asHTML)
	return nil
}

func (a *app) printNote(n notes.Note, asHTML bool) {
	fmt.Fprintf(a.stdout, "# %s\n", notes.DisplayTitle(n))
	fmt.Fprintf(a.stdout, "id: %d  category: %s  pinned: %t\n", n.ID, n.Category, n.IsPinned)
	if len(n.Tags) > 0 {
		fmt.Fprintf(a.stdout, "tags: %s\n", strings.Join(n.Tags, ", "))
	}
	fmt.Fprintf(a.stdout, "created: %s  edited: %s\n\n",
		clock.FormatShort(n.CreationDate, time.Local), clock.FormatShort(n.LastEditDate, time.Local))
	if asHTML {
		fmt.Fprintln(a.stdout, string(notes.RenderHTML(n.Content)))
		return
	}
	fmt.Fprintln(a.stdout, n.Content)
}

func (a *app) recent(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	n, ok := <-a.store.ObserveMostRecentlyCreated(ctx)
	if !ok {
		return ctx.Err()
	}
	if n == nil {
		fmt.Fprintln(a.stdout, "no notes yet")
		return nil
	}
	a.printNote(*n, false)
	return nil
}

func (a *app) tags(ctx context.Context, args []string) error {
	fs := newFlagSet("tags")
	query := fs.String("q", "", "filter tags")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	all, err := a.registry.All(ctx)
	if err != nil {
		return err
	}
	for _, tag := range tags.Filter(all, *query) {
		fmt.Fprintln(a.stdout, tag)
	}
	return nil
}

type editFlags struct {
	fs       *flag.FlagSet
	title    *string
	content  *string
	tagList  *string
	category *string
}

func newEditFlags(name string) *editFlags {
	fs := newFlagSet(name)
	return &editFlags{
		fs:       fs,
		title:    fs.String("title", "", "note title"),
		content:  fs.String("content", "", "note content (markdown)"),
		tagList:  fs.String("tags", "", "comma-separated tags"),
		category: fs.String("category", "", "category"),
	}
}

// apply forwards only the flags given on the command line.
func (f *editFlags) apply(s *editor.Session) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "title":
			s.UpdateTitle(*f.title)
		case "content":
			s.UpdateContent(*f.content)
		case "tags":
			s.UpdateTags(splitTags(*f.tagList))
		case "category":
			s.UpdateCategory(*f.category)
		}
	})
}

func (a *app) newNote(ctx context.Context, args []string) error {
	f := newEditFlags("new")
	pin := f.fs.Bool("pin", false, "pin the note")
	if err := parseFlags(f.fs, args); err != nil {
		return err
	}

	s := a.session(ctx)
	defer s.Close()

	f.apply(s)
	if *pin {
		if err := s.TogglePin(ctx); err != nil {
			return err
		}
	}
	if err := s.RequestExit(ctx); err != nil {
		return err
	}

	d := s.Draft()
	if d.IsNewNote {
		return errs.New(errs.InvalidArgument, "a new note needs a title or content")
	}
	fmt.Fprintln(a.stdout, d.Note.ID)
	return nil
}

func (a *app) edit(ctx context.Context, args []string) error {
	f := newEditFlags("edit")
	id := f.fs.Int64("id", 0, "note id")
	if err := parseFlags(f.fs, args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}

	s := a.session(ctx)
	defer s.Close()
	if err := s.Load(ctx, *id); err != nil {
		return err
	}
	f.apply(s)
	if err := s.RequestExit(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "saved note %d\n", *id)
	return nil
}

func (a *app) pin(ctx context.Context, args []string) error {
	fs := newFlagSet("pin")
	id := fs.Int64("id", 0, "note id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}

	s := a.session(ctx)
	defer s.Close()
	if err := s.Load(ctx, *id); err != nil {
		return err
	}
	if err := s.TogglePin(ctx); err != nil {
		return err
	}
	state := "unpinned"
	if s.Draft().Note.IsPinned {
		state = "pinned"
	}
	fmt.Fprintf(a.stdout, "note %d %s\n", *id, state)
	return nil
}

func (a *app) deleteNote(ctx context.Context, args []string) error {
	fs := newFlagSet("delete")
	id := fs.Int64("id", 0, "note id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}

	s := a.session(ctx)
	defer s.Close()
	if err := s.Load(ctx, *id); err != nil {
		return err
	}
	if err := s.DeleteNote(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "deleted note %d\n", *id)
	return nil
}

func (a *app) deleteTag(ctx context.Context, args []string) error {
	fs := newFlagSet("delete-tag")
	tag := fs.String("tag", "", "tag to remove from every note")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	s := a.session(ctx)
	defer s.Close()
	if err := s.DeleteTagEverywhere(ctx, strings.TrimSpace(*tag)); err != nil {
		var fe *tags.FanoutError
		if errors.As(err, &fe) {
			fmt.Fprintf(a.stdout, "tag %q still on notes %v\n", fe.Tag, fe.FailedIDs())
		}
		return err
	}
	fmt.Fprintf(a.stdout, "removed tag %q\n", strings.TrimSpace(*tag))
	return nil
}

// watch prints the note count and tag list on every change until interrupted.
func (a *app) watch(ctx context.Context) error {
	s := a.session(ctx)
	defer s.Close()

	all := a.store.ObserveAll(ctx)
	tagList := s.ObserveTags(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case list, ok := <-all:
			if !ok {
				return nil
			}
			fmt.Fprintf(a.stdout, "%d notes, %d pinned\n", len(list), len(notes.Pinned(list)))
		case current, ok := <-tagList:
			if !ok {
				return nil
			}
			fmt.Fprintf(a.stdout, "tags: %s\n", strings.Join(current, ", "))
		}
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: glyphnotes <command> [flags]

commands:
  list        list notes (-pinned, -q query, -sort edited|created)
  show        print one note (-id N, -html)
  recent      print the most recently created note
  tags        list every tag (-q query)
  new         create a note (-title, -content, -tags a,b, -category, -pin)
  edit        change a note (-id N and any of -title, -content, -tags, -category)
  pin         toggle the pin on a note (-id N)
  delete      delete a note (-id N)
  delete-tag  remove a tag from every note (-tag T)
  watch       print changes until interrupted
  env         list supported environment variables
`)
}

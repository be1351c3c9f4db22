// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// classfeedctl drives a classfeed server from the terminal, as a teacher
// or as a student.
//
//	classfeedctl session-create --teacher "Ms Rivera"
//	export CLASSFEED_TOKEN=...
//	classfeedctl present K7Q2ZD --title Fractions --cards deck.json
//
//	classfeedctl join K7Q2ZD --name Ana      # waits for approval
//	classfeedctl follow <presentation-id>    # live cursor and messages
//
// A student's approval is remembered in a local cache file so rejoining
// the same session skips the waiting room.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/twistedtree83/classfeedback/internal/admission"
	"github.com/twistedtree83/classfeedback/internal/approvalcache"
	"github.com/twistedtree83/classfeedback/internal/client"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/presentation"
	"github.com/twistedtree83/classfeedback/internal/sidechannel"
)

const (
	envServer = "CLASSFEED_SERVER"
	envToken  = "CLASSFEED_TOKEN"
	envCache  = "CLASSFEED_APPROVAL_CACHE"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// errUsage reports missing positional arguments.
var errUsage = errors.New("missing arguments")

// cli is the state shared by every command.
type cli struct {
	out    io.Writer
	client *client.Client
	cache  approvalcache.Cache
}

type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, c *cli, args []string) error
}

var commands = map[string]command{
	"session-create": {"--teacher NAME", "open a session and print its code and teacher token", cmdSessionCreate},
	"session-show":   {"CODE [--all]", "resolve a session code", cmdSessionShow},
	"session-end":    {"CODE", "end a session", cmdSessionEnd},
	"join":           {"CODE --name NAME [--no-wait]", "ask to join and wait for the teacher's decision", cmdJoin},
	"roster":         {"CODE [--watch]", "list join requests", cmdRoster},
	"approve":        {"PARTICIPANT_ID", "admit a student", cmdDecide(true)},
	"reject":         {"PARTICIPANT_ID", "turn a student away", cmdDecide(false)},
	"present":        {"CODE --cards FILE [--title T]", "upload a card deck", cmdPresent},
	"next":           {"PRESENTATION_ID", "advance the cursor", cmdMove("next")},
	"prev":           {"PRESENTATION_ID", "move the cursor back", cmdMove("prev")},
	"goto":           {"PRESENTATION_ID INDEX", "jump to a card index", cmdMove("goto")},
	"view":           {"PRESENTATION_ID", "show the live card", cmdView},
	"follow":         {"PRESENTATION_ID", "follow the cursor and teacher messages", cmdFollow},
	"board":          {"PRESENTATION_ID", "follow feedback, questions and extension requests", cmdBoard},
	"message":        {"PRESENTATION_ID TEXT...", "send a message to the class", cmdMessage},
	"feedback":       {"PRESENTATION_ID --card N --type understand|confused|slower", "react to a card", cmdFeedback},
	"ask":            {"PRESENTATION_ID --card N TEXT...", "ask a question", cmdAsk},
	"answer":         {"QUESTION_ID", "mark a question answered", cmdAnswer},
	"extend":         {"PRESENTATION_ID --card N [--wait]", "request a card's extension activity", cmdExtend},
	"extension":      {"EXTENSION_ID approve|reject", "decide an extension request", cmdExtensionDecide},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		server    string
		token     string
		cachePath string
		cacheTTL  time.Duration
	)
	fs := pflag.NewFlagSet("classfeedctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVar(&server, "server", envOr(envServer, "http://localhost:8480"), "server base URL ($"+envServer+")")
	fs.StringVar(&token, "token", os.Getenv(envToken), "bearer token ($"+envToken+")")
	fs.StringVar(&cachePath, "approval-cache", envOr(envCache, defaultCachePath()), "approval cache file, empty to disable")
	fs.DurationVar(&cacheTTL, "approval-ttl", 12*time.Hour, "how long a cached approval stays valid")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return pflag.ErrHelp
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try --help)", name)
	}

	cl, err := client.New(client.Config{BaseURL: server, Token: token})
	if err != nil {
		return err
	}
	defer cl.Close()

	c := &cli{out: stdout, client: cl}
	if cachePath != "" {
		c.cache = approvalcache.NewFile(cachePath, cacheTTL)
	}
	err = cmd.run(ctx, c, fs.Args()[1:])
	if errors.Is(err, errUsage) {
		return fmt.Errorf("usage: classfeedctl %s %s", name, cmd.usage)
	}
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "classfeed", "approvals.cbor")
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: classfeedctl [global flags] COMMAND [args]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-15s %s\n  %-15s   %s %s\n", n, commands[n].summary, "", n, commands[n].usage)
	}
	fmt.Fprintf(w, "\nGlobal flags:\n%s", fs.FlagUsages())
}

// flags parses a command's own flags and checks the positional count.
func flags(name string, args []string, minArgs int, define func(fs *pflag.FlagSet)) ([]string, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if define != nil {
		define(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() < minArgs {
		return nil, errUsage
	}
	return fs.Args(), nil
}

func (c *cli) print(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", data)
	return err
}

func (c *cli) printToken(label string) {
	fmt.Fprintf(c.out, "%s token:\n  export %s=%s\n", label, envToken, c.client.Token())
}

func cmdSessionCreate(ctx context.Context, c *cli, args []string) error {
	var teacher string
	if _, err := flags("session-create", args, 0, func(fs *pflag.FlagSet) {
		fs.StringVar(&teacher, "teacher", "", "teacher display name")
	}); err != nil {
		return err
	}
	s, err := c.client.CreateSession(ctx, teacher)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Session code: %s\n", s.Code)
	c.printToken("Teacher")
	return nil
}

func cmdSessionShow(ctx context.Context, c *cli, args []string) error {
	var all bool
	rest, err := flags("session-show", args, 1, func(fs *pflag.FlagSet) {
		fs.BoolVar(&all, "all", false, "include ended sessions")
	})
	if err != nil {
		return err
	}
	s, err := c.client.ResolveSession(ctx, rest[0], all)
	if errors.Is(err, models.ErrNotFound) {
		return errors.New(models.SessionGoneMessage)
	}
	if err != nil {
		return err
	}
	return c.print(s)
}

func cmdSessionEnd(ctx context.Context, c *cli, args []string) error {
	rest, err := flags("session-end", args, 1, nil)
	if err != nil {
		return err
	}
	s, err := c.client.EndSession(ctx, rest[0])
	if err != nil {
		return err
	}
	c.forgetApproval(s.Code)
	return c.print(s)
}

func cmdJoin(ctx context.Context, c *cli, args []string) error {
	var (
		name   string
		noWait bool
	)
	rest, err := flags("join", args, 1, func(fs *pflag.FlagSet) {
		fs.StringVar(&name, "name", "", "your name as the teacher will see it")
		fs.BoolVar(&noWait, "no-wait", false, "return right after the request is sent")
	})
	if err != nil {
		return err
	}

	s, err := c.client.ResolveSession(ctx, rest[0], false)
	if errors.Is(err, models.ErrNotFound) {
		c.forgetApproval(rest[0])
		return errors.New(models.SessionGoneMessage)
	}
	if err != nil {
		return err
	}
	if e, ok := c.cachedApproval(ctx, s, name); ok {
		c.client.SetToken(e.Token)
		fmt.Fprintf(c.out, "Welcome back, %s. %s already let you in.\n", e.StudentName, s.TeacherName)
		c.printToken("Student")
		c.printActivePresentation(ctx, s.Code)
		return nil
	}

	p, err := c.client.Join(ctx, s.Code, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Join request %s sent to %s.\n", p.ID, s.TeacherName)
	c.printToken("Student")
	if noWait {
		return nil
	}

	fmt.Fprintln(c.out, "Waiting for the teacher to let you in...")
	w, err := admission.Watch(ctx, c.client, s.Code, p.ID, admission.WatchOptions{
		PollInterval: admission.DefaultStatusPoll,
		Cache:        c.cache,
		TeacherName:  s.TeacherName,
		Token:        c.client.Token(),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	got, err := w.Wait(ctx)
	if err != nil {
		return err
	}
	switch got.Status {
	case models.StatusApproved:
		fmt.Fprintln(c.out, "Approved. Run `classfeedctl follow` with the presentation id.")
		c.printActivePresentation(ctx, s.Code)
	case models.StatusRejected:
		fmt.Fprintln(c.out, "The teacher declined your request. You can try again with another name.")
	}
	return nil
}

// cachedApproval returns the remembered admission into s when it still
// holds: same session, same name and the participant still approved on
// the server. A stale entry is cleared.
func (c *cli) cachedApproval(ctx context.Context, s models.Session, name string) (approvalcache.Entry, bool) {
	if c.cache == nil {
		return approvalcache.Entry{}, false
	}
	e, ok := c.cache.Get(s.Code)
	if !ok || !e.Approved || e.Token == "" || e.ParticipantID == "" {
		return approvalcache.Entry{}, false
	}
	if e.SessionID != s.ID {
		c.forgetApproval(s.Code)
		return approvalcache.Entry{}, false
	}
	if name = strings.TrimSpace(name); name != "" && !strings.EqualFold(name, e.StudentName) {
		return approvalcache.Entry{}, false
	}
	p, err := c.client.Participant(ctx, e.ParticipantID)
	if err != nil || p.Status != models.StatusApproved || p.SessionID != s.ID {
		c.forgetApproval(s.Code)
		return approvalcache.Entry{}, false
	}
	return e, true
}

func (c *cli) forgetApproval(code string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Clear(code); err != nil {
		fmt.Fprintf(c.out, "warning: could not clear cached approval: %v\n", err)
	}
}

func (c *cli) printActivePresentation(ctx context.Context, code string) {
	if pres, err := c.client.ActivePresentation(ctx, code); err == nil {
		fmt.Fprintf(c.out, "Current presentation: %s (%s)\n", pres.ID, pres.Title)
	}
}

func cmdRoster(ctx context.Context, c *cli, args []string) error {
	var watch bool
	rest, err := flags("roster", args, 1, func(fs *pflag.FlagSet) {
		fs.BoolVar(&watch, "watch", false, "keep printing as requests arrive")
	})
	if err != nil {
		return err
	}
	code := models.NormalizeCode(rest[0])
	if !watch {
		list, err := c.client.Roster(ctx, code)
		if err != nil {
			return err
		}
		return c.print(list)
	}

	s, err := c.client.ResolveSession(ctx, code, false)
	if errors.Is(err, models.ErrNotFound) {
		return errors.New(models.SessionGoneMessage)
	}
	if err != nil {
		return err
	}
	var roster *admission.Roster
	changed := make(chan struct{}, 1)
	roster, err = admission.FollowRoster(ctx, c.client, s, admission.DefaultRosterPoll, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer roster.Close()

	for {
		n := roster.Counts()
		fmt.Fprintf(c.out, "pending %d, approved %d, rejected %d\n", n.Pending, n.Approved, n.Rejected)
		for _, p := range roster.Pending() {
			fmt.Fprintf(c.out, "  waiting: %s (%s)\n", p.StudentName, p.ID)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

func cmdDecide(approve bool) func(context.Context, *cli, []string) error {
	name := "reject"
	if approve {
		name = "approve"
	}
	return func(ctx context.Context, c *cli, args []string) error {
		rest, err := flags(name, args, 1, nil)
		if err != nil {
			return err
		}
		var p models.Participant
		if approve {
			p, err = c.client.Approve(ctx, rest[0])
		} else {
			p, err = c.client.Reject(ctx, rest[0])
		}
		if err != nil {
			return err
		}
		return c.print(p)
	}
}

func cmdPresent(ctx context.Context, c *cli, args []string) error {
	var title, cardsPath string
	rest, err := flags("present", args, 1, func(fs *pflag.FlagSet) {
		fs.StringVar(&title, "title", "", "presentation title")
		fs.StringVar(&cardsPath, "cards", "", "JSON file holding an array of cards")
	})
	if err != nil {
		return err
	}
	if cardsPath == "" {
		return errors.New("present: --cards is required")
	}
	data, err := os.ReadFile(cardsPath)
	if err != nil {
		return err
	}
	var cards []models.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return fmt.Errorf("read cards from %s: %w", cardsPath, err)
	}
	p, err := c.client.CreatePresentation(ctx, models.NormalizeCode(rest[0]), title, cards, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Presentation %s with %d cards is live.\n", p.ID, len(p.Cards))
	return nil
}

func cmdMove(dir string) func(context.Context, *cli, []string) error {
	return func(ctx context.Context, c *cli, args []string) error {
		want := 1
		if dir == "goto" {
			want = 2
		}
		rest, err := flags(dir, args, want, nil)
		if err != nil {
			return err
		}
		switch dir {
		case "next":
			_, err = c.client.Advance(ctx, rest[0])
		case "prev":
			_, err = c.client.Retreat(ctx, rest[0])
		default:
			idx, perr := strconv.Atoi(rest[1])
			if perr != nil {
				return fmt.Errorf("goto: index %q: %w", rest[1], perr)
			}
			_, err = c.client.SetCursor(ctx, rest[0], idx)
		}
		if err != nil {
			return err
		}
		return cmdView(ctx, c, rest[:1])
	}
}

func cmdView(ctx context.Context, c *cli, args []string) error {
	rest, err := flags("view", args, 1, nil)
	if err != nil {
		return err
	}
	v, err := c.client.View(ctx, rest[0])
	if err != nil {
		return err
	}
	c.printView(v.View)
	return nil
}

func (c *cli) printView(v presentation.View) {
	if v.Welcome {
		fmt.Fprintf(c.out, "[welcome] %s with %s, %d cards\n", v.Title, v.TeacherName, v.Total)
		return
	}
	fmt.Fprintf(c.out, "[%d of %d] %s\n", v.Position, v.Total, v.Card.Title)
	if v.Card.Content != "" {
		fmt.Fprintf(c.out, "%s\n", v.Card.Content)
	}
}

func cmdFollow(ctx context.Context, c *cli, args []string) error {
	rest, err := flags("follow", args, 1, nil)
	if err != nil {
		return err
	}
	id := rest[0]

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	viewer, err := presentation.Attach(ctx, c.client, id, presentation.DefaultCursorPoll, func(presentation.View) { notify() })
	if err != nil {
		return err
	}
	defer viewer.Close()
	msgs, err := sidechannel.FollowMessages(ctx, c.client, id, sidechannel.DefaultSidePoll, notify)
	if err != nil {
		return err
	}
	defer msgs.Close()

	type shownCard struct {
		card   string
		pos    int
		active bool
	}
	var (
		shown   shownCard
		started bool
		printed int
	)
	for {
		v := viewer.View()
		if cur := (shownCard{v.Card.ID, v.Position, v.Active}); !started || cur != shown {
			c.printView(v)
			if !v.Active {
				fmt.Fprintln(c.out, "The presentation has ended.")
			}
			shown, started = cur, true
		}
		all := msgs.Messages()
		for ; printed < len(all); printed++ {
			fmt.Fprintf(c.out, "  >> %s: %s\n", all[printed].TeacherName, all[printed].Content)
		}
		msgs.MarkViewed()

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

func cmdBoard(ctx context.Context, c *cli, args []string) error {
	rest, err := flags("board", args, 1, nil)
	if err != nil {
		return err
	}
	id := rest[0]

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	viewer, err := presentation.Attach(ctx, c.client, id, presentation.DefaultCursorPoll, func(presentation.View) { notify() })
	if err != nil {
		return err
	}
	defer viewer.Close()
	fb, err := sidechannel.FollowFeedback(ctx, c.client, id, sidechannel.DefaultSidePoll, notify)
	if err != nil {
		return err
	}
	defer fb.Close()
	qs, err := sidechannel.FollowQuestions(ctx, c.client, id, sidechannel.DefaultSidePoll, notify)
	if err != nil {
		return err
	}
	defer qs.Close()
	ext, err := sidechannel.FollowExtensions(ctx, c.client, id, sidechannel.DefaultExtensionPoll, notify)
	if err != nil {
		return err
	}
	defer ext.Close()

	for {
		v := viewer.View()
		now := fb.Counts(sidechannel.CurrentCard(viewer.Presentation().CurrentCardIndex))
		fmt.Fprintf(c.out, "--- card %d of %d ---\n", v.Position, v.Total)
		fmt.Fprintf(c.out, "understand %d, confused %d, slower %d\n",
			now[models.FeedbackUnderstand], now[models.FeedbackConfused], now[models.FeedbackSlower])
		for _, q := range qs.Unanswered() {
			fmt.Fprintf(c.out, "  ? %s (card %d, %s): %s\n", q.StudentName, q.CardIndex, q.ID, q.Text)
		}
		for _, e := range ext.Pending() {
			fmt.Fprintf(c.out, "  + %s wants the extension for card %d (%s)\n", e.StudentName, e.CardIndex, e.ID)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

func cmdMessage(ctx context.Context, c *cli, args []string) error {
	rest, err := flags("message", args, 2, nil)
	if err != nil {
		return err
	}
	m, err := c.client.SendMessage(ctx, rest[0], strings.Join(rest[1:], " "))
	if err != nil {
		return err
	}
	return c.print(m)
}

func cmdFeedback(ctx context.Context, c *cli, args []string) error {
	var (
		card int
		typ  string
	)
	rest, err := flags("feedback", args, 1, func(fs *pflag.FlagSet) {
		fs.IntVar(&card, "card", 0, "cursor index of the card")
		fs.StringVar(&typ, "type", "", "understand, confused or slower")
	})
	if err != nil {
		return err
	}
	f, err := c.client.SubmitFeedback(ctx, rest[0], card, models.FeedbackType(typ))
	if err != nil {
		return err
	}
	return c.print(f)
}

func cmdAsk(ctx context.Context, c *cli, args []string) error {
	var card int
	rest, err := flags("ask", args, 2, func(fs *pflag.FlagSet) {
		fs.IntVar(&card, "card", 0, "cursor index of the card")
	})
	if err != nil {
		return err
	}
	q, err := c.client.Ask(ctx, rest[0], strings.Join(rest[1:], " "), card)
	if err != nil {
		return err
	}
	return c.print(q)
}

func cmdAnswer(ctx context.Context, c *cli, args []string) error {
	rest, err := flags("answer", args, 1, nil)
	if err != nil {
		return err
	}
	q, err := c.client.AnswerQuestion(ctx, rest[0])
	if err != nil {
		return err
	}
	return c.print(q)
}

func cmdExtend(ctx context.Context, c *cli, args []string) error {
	var (
		card int
		wait bool
	)
	rest, err := flags("extend", args, 1, func(fs *pflag.FlagSet) {
		fs.IntVar(&card, "card", 0, "cursor index of the card")
		fs.BoolVar(&wait, "wait", false, "wait until the teacher decides")
	})
	if err != nil {
		return err
	}
	req, err := c.client.RequestExtension(ctx, rest[0], card)
	if err != nil {
		return err
	}
	if !wait || req.Status != models.StatusPending {
		return c.print(req)
	}

	fmt.Fprintln(c.out, "Extension requested, waiting for the teacher...")
	unlocked := make(chan models.ExtensionRequest, 1)
	w, err := sidechannel.WatchExtensions(ctx, c.client, rest[0], req.StudentName, sidechannel.DefaultExtensionPoll,
		func(r models.ExtensionRequest) {
			select {
			case unlocked <- r:
			default:
			}
		})
	if err != nil {
		return err
	}
	defer w.Close()
	w.Track(req)

	select {
	case r := <-unlocked:
		fmt.Fprintf(c.out, "Extension for card %d unlocked.\n", r.CardIndex)
		if p, err := c.client.Presentation(ctx, rest[0]); err == nil {
			if ext := presentation.Assemble(p, r.CardIndex).Card.Extension; len(ext) > 0 {
				return c.print(ext)
			}
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

func cmdExtensionDecide(ctx context.Context, c *cli, args []string) error {
	rest, err := flags("extension", args, 2, nil)
	if err != nil {
		return err
	}
	var e models.ExtensionRequest
	switch rest[1] {
	case "approve":
		e, err = c.client.ApproveExtension(ctx, rest[0])
	case "reject":
		e, err = c.client.RejectExtension(ctx, rest[0])
	default:
		return fmt.Errorf("extension: want approve or reject, got %q", rest[1])
	}
	if err != nil {
		return err
	}
	return c.print(e)
}

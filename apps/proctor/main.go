// Command proctor takes a quiz from the terminal through the proctoring client.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/client"
	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	logsvc "github.com/trezcool/clubhub/services/logger"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "The quiz server's base URL.")
	code := flag.String("code", "", "The quiz join code.")
	email := flag.String("email", "", "The candidate's email.")
	name := flag.String("name", "", "The candidate's name, asked when starting a new attempt.")
	flag.Parse()
	if *code == "" || *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	conf := core.NewConfig()
	rootLogger := logsvc.NewRollbarLogger(logsvc.NewZap(conf), conf)
	defer func() { _ = rootLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := &terminal{
		in:   bufio.NewScanner(os.Stdin),
		out:  os.Stdout,
		sess: client.NewSession(client.NewHTTPClient(*baseURL, nil), client.Options{Logger: rootLogger.Named("PROCTOR")}),
	}
	if err := t.run(ctx, *code, *email, *name); err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		os.Exit(1)
	}
}

type terminal struct {
	in   *bufio.Scanner
	out  io.Writer
	sess *client.Session
}

func (t *terminal) prompt(msg string) (string, bool) {
	fmt.Fprint(t.out, msg)
	if !t.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(t.in.Text()), true
}

func (t *terminal) run(ctx context.Context, code, email, name string) error {
	err := t.sess.Join(ctx, code, email)
	var ae *client.APIError
	if errors.As(err, &ae) && ae.Preview != nil {
		p := ae.Preview
		fmt.Fprintf(t.out, "%s\n%s\n\n%d questions, %d minutes.\n%s\n\n", p.Title, p.Description, p.QuestionCount, p.DurationMinutes, p.Instructions)
		if name == "" {
			if name, _ = t.prompt("Your name: "); name == "" {
				return errors.New("a name is required to start")
			}
		}
		err = t.sess.Start(ctx, p.ID, quiz.NewAttempt{Email: email, Name: name})
	}
	if err != nil {
		return err
	}
	if t.sess.State().IsFinal() {
		t.printResult()
		return nil
	}

	go func() {
		if err := t.sess.Run(ctx); err != nil && err != context.Canceled {
			fmt.Fprintf(t.out, "\ncountdown stopped: %s\n", err)
		}
	}()
	go func() {
		<-t.sess.Done()
		t.printResult()
		fmt.Fprintln(t.out, "Press enter to exit.")
	}()

	t.show()
	t.help()
	for {
		line, ok := t.prompt("> ")
		if !ok || ctx.Err() != nil || t.sess.State().IsFinal() {
			return nil
		}
		if err := t.exec(ctx, strings.Fields(line)); err != nil {
			if err == io.EOF {
				return nil
			}
			fmt.Fprintf(t.out, "error: %s\n", err)
		}
	}
}

func (t *terminal) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "show":
		t.show()
	case "time":
		fmt.Fprintf(t.out, "%s left\n", formatSeconds(t.sess.TimeLeft()))
	case "answer":
		if len(args) < 2 {
			return errors.New("usage: answer QUESTION [VALUE...]")
		}
		qid, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return errors.Wrap(err, "question")
		}
		return t.sess.Answer(qid, args[2:]...)
	case "hide":
		t.violate(ctx, client.VisibilityHidden)
	case "blur":
		t.violate(ctx, client.FocusLost)
	case "fullscreen":
		t.sess.FullscreenChanged(len(args) > 1 && args[1] == "on")
	case "finalize":
		_, err := t.sess.Finalize(ctx, func() bool {
			answer, _ := t.prompt("Submit your answers? This cannot be undone [y/N]: ")
			return strings.EqualFold(answer, "y")
		})
		if err != nil && err != client.ErrNotConfirmed {
			return errors.New("submission failed")
		}
	case "help":
		t.help()
	case "quit":
		return io.EOF
	default:
		return errors.Errorf("unknown command %q", args[0])
	}
	return nil
}

func (t *terminal) violate(ctx context.Context, kind client.ViolationKind) {
	if t.sess.Violate(ctx, kind) {
		fmt.Fprintf(t.out, "\nPROCTORING VIOLATION (%s): your attempt has been terminated.\n", kind)
	}
}

func (t *terminal) show() {
	q := t.sess.Quiz()
	answers := t.sess.Answers()
	fmt.Fprintf(t.out, "\n%s  [%s left]\n", q.Title, formatSeconds(t.sess.TimeLeft()))
	for i, qn := range q.Questions {
		fmt.Fprintf(t.out, "\n%d. (#%d, %s, +%g/-%g) %s\n", i+1, qn.ID, qn.Type, qn.Marks, qn.NegativeMarks, qn.Text)
		for _, opt := range qn.Options {
			fmt.Fprintf(t.out, "     [%d] %s\n", opt.ID, opt.Text)
		}
		if vals := answers[strconv.FormatInt(qn.ID, 10)]; len(vals) > 0 {
			fmt.Fprintf(t.out, "   answer: %s\n", strings.Join(vals, ", "))
		}
	}
	if err := t.sess.SaveError(); err != nil {
		fmt.Fprintf(t.out, "\nwarning: %s\n", err)
	}
	fmt.Fprintln(t.out)
}

func (t *terminal) help() {
	fmt.Fprintln(t.out, "Commands:")
	fmt.Fprintln(t.out, "  show                       - show the questions and your answers")
	fmt.Fprintln(t.out, "  time                       - show the time left")
	fmt.Fprintln(t.out, "  answer QUESTION [VALUE...] - answer a question, no value clears it")
	fmt.Fprintln(t.out, "  finalize                   - submit your answers")
	fmt.Fprintln(t.out, "  fullscreen on|off, hide, blur")
	fmt.Fprintln(t.out, "                             - simulate the browser's proctoring events")
	fmt.Fprintln(t.out, "  quit")
}

func (t *terminal) printResult() {
	res, err := t.sess.Result()
	switch {
	case t.sess.State() == client.StateTerminated:
		fmt.Fprintf(t.out, "\nAttempt terminated: %s.\n", t.sess.Violation())
	case err != nil:
		fmt.Fprintln(t.out, "\nYour answers could not be submitted.")
	default:
		score := "pending"
		if res.Score != nil {
			score = strconv.FormatFloat(*res.Score, 'f', -1, 64)
		}
		fmt.Fprintf(t.out, "\nAttempt %s. Score: %s\n", strings.ToLower(string(res.Status)), score)
	}
}

func formatSeconds(s int64) string {
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session/internal/examclient"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
)

var (
	serverURL    string
	token        string
	userID       int
	testIDFlag   string
	answersFile  string
	cacheDir     string
	pauseAfter   bool
	useStream    bool
	submissionID string
)

var (
	rootCmd = &cobra.Command{
		Use:           "examctl",
		Short:         "Drive exam attempts against the session engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	tokenCmd = &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a student token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	takeCmd = &cobra.Command{
		Use:   "take",
		Short: "Take an attempt headlessly, answering from a JSON file",
		Long: `Loads or resumes the attempt, answers every question found in --answers
({"<question-id>": "<value>"}), walks each module and its review, then submits.
With --pause the attempt is checkpointed and left open instead.`,
		RunE: runTake,
	}
	resultCmd = &cobra.Command{
		Use:   "result",
		Short: "Print the grade of a completed attempt",
		RunE:  runResult,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Session engine base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("EXAMCTL_TOKEN"), "Student bearer token")
	rootCmd.PersistentFlags().StringVar(&testIDFlag, "test-id", "", "Test UUID")

	rootCmd.AddCommand(tokenCmd)

	rootCmd.AddCommand(takeCmd)
	takeCmd.Flags().IntVar(&userID, "user-id", 0, "User ID the token belongs to (keys the local cache)")
	takeCmd.Flags().StringVar(&answersFile, "answers", "", "JSON file mapping question IDs to answers")
	takeCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Local snapshot directory (empty keeps it in memory)")
	takeCmd.Flags().BoolVar(&pauseAfter, "pause", false, "Save and exit instead of submitting")
	takeCmd.Flags().BoolVar(&useStream, "stream", true, "Autosave and report violations over the WebSocket")

	rootCmd.AddCommand(resultCmd)
	resultCmd.Flags().StringVar(&submissionID, "submission-id", "", "Submission UUID")
}

func runToken(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	tok, err := service.NewAuthService(cfg).IssueToken(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

func runTake(cmd *cobra.Command, args []string) error {
	testID, err := uuid.Parse(testIDFlag)
	if err != nil {
		return fmt.Errorf("invalid --test-id: %w", err)
	}
	if userID <= 0 {
		return errors.New("--user-id is required")
	}
	answers, err := readAnswers(answersFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := examclient.OpenLocalCache(cacheDir, log)
	if err != nil {
		return err
	}
	defer cache.Close()

	opts := examclient.Options{
		UserID:   userID,
		TestID:   testID,
		API:      examclient.NewClient(serverURL, token),
		Store:    cache,
		Notifier: logNotifier{log: log},
		Log:      log,
	}
	if useStream {
		stream, err := examclient.DialStream(ctx, serverURL, token, testID)
		if err != nil {
			log.Warn().Err(err).Msg("Session stream unavailable, continuing without it")
		} else {
			defer stream.Close()
			opts.Reporter = stream
			opts.Autosaver = stream
		}
	}

	attempt, err := examclient.Load(ctx, opts)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() {
		_, err := attempt.Run(ctx)
		runErr <- err
	}()

	if err := walk(ctx, attempt, answers); err != nil {
		if errors.Is(err, examclient.ErrAttemptClosed) {
			<-runErr
			return printJSON(cmd, attempt.Result())
		}
		if ctx.Err() != nil {
			return saveAndExit(attempt)
		}
		return err
	}

	if pauseAfter {
		return saveAndExit(attempt)
	}

	res, err := attempt.Submit(ctx)
	if err != nil && !errors.Is(err, examclient.ErrAttemptClosed) {
		return err
	}
	if res == nil {
		res = attempt.Result()
	}
	return printJSON(cmd, res)
}

// walk answers every module in order and stops on the final review. The
// timer may move the attempt on at any point, so a step that fails after a
// phase change is simply re-planned.
func walk(ctx context.Context, attempt *examclient.Attempt, answers map[string]string) error {
	test := attempt.Test()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		view := attempt.View()
		if view.Phase == model.PhaseSubmitted {
			return examclient.ErrAttemptClosed
		}
		if view.Phase.IsReview() && view.Phase.Module() == len(test.Sections) {
			return nil
		}

		var err error
		if view.Phase.IsReview() {
			err = attempt.Advance()
		} else {
			err = answerModule(ctx, attempt, test.Sections[view.Phase.Module()-1], answers)
		}
		if err != nil && attempt.View().Phase == view.Phase {
			return err
		}
	}
}

func answerModule(ctx context.Context, attempt *examclient.Attempt, section model.SectionForStudent, answers map[string]string) error {
	for i, q := range section.Questions {
		if err := attempt.Navigate(i); err != nil {
			return err
		}
		if v, ok := answers[q.ID.String()]; ok {
			if err := attempt.SelectAnswer(ctx, q.ID.String(), v); err != nil {
				return err
			}
		}
	}
	return attempt.Advance()
}

func saveAndExit(attempt *examclient.Attempt) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := attempt.SaveAndExit(ctx); err != nil {
		return err
	}
	log.Info().Str("submission_id", attempt.SubmissionID().String()).Msg("Attempt paused")
	return nil
}

func runResult(cmd *cobra.Command, args []string) error {
	testID, err := uuid.Parse(testIDFlag)
	if err != nil {
		return fmt.Errorf("invalid --test-id: %w", err)
	}
	subID, err := uuid.Parse(submissionID)
	if err != nil {
		return fmt.Errorf("invalid --submission-id: %w", err)
	}
	res, err := examclient.NewClient(serverURL, token).Result(cmd.Context(), testID, subID)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func readAnswers(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	var answers map[string]string
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, fmt.Errorf("parse answers: %w", err)
	}
	return answers, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// logNotifier renders attempt feedback as log lines.
type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) Warn(count, limit int) {
	n.log.Warn().Int("count", count).Int("limit", limit).Msg("Integrity warning")
}

func (n logNotifier) Notice(msg string) { n.log.Info().Msg(msg) }

func (n logNotifier) Block(msg string) { n.log.Warn().Msg(msg) }

func (n logNotifier) Unblock() {}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// EnrollOptions holds the flags of the enroll command
type EnrollOptions struct {
	Dir        string
	NumEngines int
	Overwrite  bool
}

var enrollOpts EnrollOptions

var enrollCmd = &cobra.Command{
	Use:   "enroll [<username> <image_path>]",
	Short: "Enroll face embeddings for existing users",
	Long: "Enrolls one user from an image, or with --dir every image named <username>.<ext> " +
		"in a directory, using several worker processes in parallel.",
	Args: func(cmd *cobra.Command, args []string) error {
		if enrollOpts.Dir != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if enrollOpts.Dir != "" {
			return runEnrollDir(cmd.Context(), enrollOpts)
		}
		return runEnrollOne(cmd.Context(), args[0], args[1], enrollOpts)
	},
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollOpts.Dir, "dir", "d", "", "Directory of <username>.<ext> images to enroll")
	enrollCmd.Flags().IntVarP(&enrollOpts.NumEngines, "engines", "e", 1, "Number of parallel worker processes")
	enrollCmd.Flags().BoolVar(&enrollOpts.Overwrite, "overwrite", false, "Replace embeddings of users that are already enrolled")
	rootCmd.AddCommand(enrollCmd)
}

// enrollStore is the part of the store enrollment needs.
type enrollStore interface {
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
	SetFaceEmbedding(ctx context.Context, userID int, e types.Embedding) error
}

type faceGenerator interface {
	Generate(ctx context.Context, imagePath string) (types.Embedding, error)
}

type enrollJob struct {
	Username string
	Path     string
}

type enrollSummary struct {
	mu       sync.Mutex
	Enrolled []string
	Skipped  map[string]string
	Failed   map[string]error
}

func newEnrollSummary() *enrollSummary {
	return &enrollSummary{Skipped: map[string]string{}, Failed: map[string]error{}}
}

func (s *enrollSummary) enrolled(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enrolled = append(s.Enrolled, username)
}

func (s *enrollSummary) skip(username, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped[username] = reason
}

func (s *enrollSummary) fail(username string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed[username] = err
}

func runEnrollOne(ctx context.Context, username, imagePath string, opts EnrollOptions) error {
	if err := checkImage(imagePath); err != nil {
		return err
	}
	face, err := newFaceClient()
	if err != nil {
		return err
	}

	summary := newEnrollSummary()
	enrollOne(ctx, DB, face, enrollJob{Username: username, Path: imagePath}, opts.Overwrite, summary)

	if err, ok := summary.Failed[username]; ok {
		return showError(fmt.Sprintf("Failed to enroll %s", username), err, worker.Logs(err))
	}
	if reason, ok := summary.Skipped[username]; ok {
		fmt.Printf("⏭️  Skipped %s: %s\n", username, reason)
		return nil
	}
	fmt.Printf("✅ Enrolled %s\n", username)
	return nil
}

func runEnrollDir(ctx context.Context, opts EnrollOptions) error {
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}

	jobs, dupes, err := collectEnrollJobs(opts.Dir)
	if err != nil {
		return showError("Failed to read image directory", err, "")
	}
	if len(jobs) == 0 {
		fmt.Println("No images found.")
		return nil
	}

	face, err := newFaceClient()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "⚙️  Spawning up to %d worker processes for %d images...\n", opts.NumEngines, len(jobs))
	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("🧬 Enrolling"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	summary := newEnrollSummary()
	for _, d := range dupes {
		summary.skip(filepath.Base(d), "duplicate image for the same username")
	}

	if err := enrollAll(ctx, DB, face, jobs, opts, summary, func() { _ = bar.Add(1) }); err != nil {
		return err
	}
	_ = bar.Finish()

	printEnrollSummary(summary)
	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d of %d enrollments failed", len(summary.Failed), len(jobs))
	}
	return nil
}

// collectEnrollJobs maps every image in dir to a username. When two images share a
// username the first in name order wins and the rest are returned as duplicates.
func collectEnrollJobs(dir string) (jobs []enrollJob, duplicates []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	images := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && utils.IsImageFile(e.Name())
	})

	seen := map[string]bool{}
	for _, e := range images {
		path := filepath.Join(dir, e.Name())
		name := utils.UsernameFromPath(path)
		if seen[name] {
			duplicates = append(duplicates, path)
			continue
		}
		seen[name] = true
		jobs = append(jobs, enrollJob{Username: name, Path: path})
	}
	return jobs, duplicates, nil
}

// enrollAll runs jobs with at most opts.NumEngines concurrent worker processes.
// Per-user failures are recorded in summary; only cancellation stops the run.
func enrollAll(ctx context.Context, db enrollStore, face faceGenerator, jobs []enrollJob, opts EnrollOptions, summary *enrollSummary, progress func()) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.NumEngines, 1))

	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer progress()
			enrollOne(gctx, db, face, job, opts.Overwrite, summary)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func enrollOne(ctx context.Context, db enrollStore, face faceGenerator, job enrollJob, overwrite bool, summary *enrollSummary) {
	user, err := db.GetUserByUsername(ctx, job.Username)
	if errors.Is(err, store.ErrNotFound) {
		summary.skip(job.Username, "no such user")
		return
	}
	if err != nil {
		summary.fail(job.Username, err)
		return
	}
	if user.HasFace && !overwrite {
		summary.skip(job.Username, "already enrolled (use --overwrite)")
		return
	}

	emb, err := face.Generate(ctx, job.Path)
	if err != nil {
		summary.fail(job.Username, err)
		return
	}
	if err := db.SetFaceEmbedding(ctx, user.ID, emb); err != nil {
		summary.fail(job.Username, err)
		return
	}
	summary.enrolled(job.Username)
}

func printEnrollSummary(s *enrollSummary) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 ENROLLMENT SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	slices.Sort(s.Enrolled)
	for _, name := range s.Enrolled {
		fmt.Fprintf(os.Stderr, "✅ %s\n", name)
	}
	for _, name := range sortedKeys(s.Skipped) {
		fmt.Fprintf(os.Stderr, "⏭️  %s: %s\n", name, s.Skipped[name])
	}
	for _, name := range sortedKeys(s.Failed) {
		err := s.Failed[name]
		fmt.Fprintf(os.Stderr, "❌ %s: %v\n", name, err)
		if logs := worker.Logs(err); logs != "" {
			fmt.Fprintf(os.Stderr, "   worker: %s\n", logs)
		}
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "Enrolled: %d   Skipped: %d   Failed: %d\n", len(s.Enrolled), len(s.Skipped), len(s.Failed))
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

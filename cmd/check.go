package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/spf13/cobra"
)

var errNotEnrolled = errors.New("user has no enrolled face")

var checkCmd = &cobra.Command{
	Use:   "check <username> <image_path>",
	Short: "Verify an image against a user's enrolled face",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := checkImage(args[1]); err != nil {
			return err
		}
		face, err := newFaceClient()
		if err != nil {
			return err
		}
		return runCheck(cmd.Context(), DB, face, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

type checkStore interface {
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
	GetFaceEmbedding(ctx context.Context, userID int) (types.Embedding, error)
}

type faceVerifier interface {
	Verify(ctx context.Context, imagePath string, target types.Embedding) (bool, error)
}

// runCheck reports whether imagePath matches the user's enrolled face. A mismatch is a
// normal outcome; an unknown or unenrolled user is an error.
func runCheck(ctx context.Context, db checkStore, face faceVerifier, username, imagePath string) error {
	user, err := db.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return showError(fmt.Sprintf("No user named %q", username), err, "")
	}
	if err != nil {
		return showError("Database lookup failed", err, "")
	}

	target, err := db.GetFaceEmbedding(ctx, user.ID)
	if err != nil {
		return showError("Failed to load embedding", err, "")
	}
	if target == nil {
		return showError(fmt.Sprintf("%s has no enrolled face. Run 'facegate enroll %s <image>' first", username, username),
			fmt.Errorf("%s: %w", username, errNotEnrolled), "")
	}

	fmt.Fprintln(os.Stderr, "🔍 Comparing faces...")
	match, err := face.Verify(ctx, imagePath, target)
	if err != nil {
		return showError("Verification failed", err, worker.Logs(err))
	}

	if match {
		fmt.Printf("✅ Match: image belongs to %s (ID: %d)\n", user.Name, user.ID)
	} else {
		fmt.Printf("❌ No match for %s.\n", user.Name)
	}
	return nil
}

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/cache"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/dto"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/service"
	"github.com/vibast-solutions/ms-go-stats-gateway/config"
)

var (
	issueName      string
	issuePlan      string
	issueExpiresIn time.Duration
)

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage stats API keys",
}

var apiKeyIssueCmd = &cobra.Command{
	Use:   "issue <user_id>",
	Short: "Issue an API key for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		userID, err := parseID(args[0], "user id")
		if err != nil {
			return err
		}

		apiKeyService, closeFn, err := newAPIKeyServiceForCommands()
		if err != nil {
			return err
		}
		defer closeFn()

		result, err := apiKeyService.Issue(context.Background(), service.IssueAPIKeyInput{
			UserID:    userID,
			Name:      issueName,
			Plan:      issuePlan,
			ExpiresIn: issueExpiresIn,
		})
		if err != nil {
			if errors.Is(err, service.ErrUnknownPlan) {
				return fmt.Errorf("plan %q does not exist or is inactive", issuePlan)
			}
			return err
		}

		printIssued(result)
		return nil
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <api_key_id>",
	Short: "Revoke an API key immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseID(args[0], "api key id")
		if err != nil {
			return err
		}

		apiKeyService, closeFn, err := newAPIKeyServiceForCommands()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := apiKeyService.Revoke(context.Background(), id); err != nil {
			switch {
			case errors.Is(err, service.ErrAPIKeyNotFound):
				return fmt.Errorf("api key %d not found", id)
			case errors.Is(err, service.ErrAPIKeyAlreadyRevoked):
				return fmt.Errorf("api key %d is already revoked", id)
			}
			return err
		}

		fmt.Printf("revoked api key %d\n", id)
		return nil
	},
}

var apiKeyRotateCmd = &cobra.Command{
	Use:   "rotate <api_key_id>",
	Short: "Issue a replacement API key and expire the old one after a grace period",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseID(args[0], "api key id")
		if err != nil {
			return err
		}

		grace, err := promptOldKeyGraceMinutes()
		if err != nil {
			return err
		}

		apiKeyService, closeFn, err := newAPIKeyServiceForCommands()
		if err != nil {
			return err
		}
		defer closeFn()

		result, err := apiKeyService.Rotate(context.Background(), id, grace)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrAPIKeyNotFound):
				return fmt.Errorf("api key %d not found", id)
			case errors.Is(err, service.ErrAPIKeyAlreadyRevoked):
				return fmt.Errorf("api key %d is revoked or expired", id)
			case errors.Is(err, service.ErrInvalidRotationGrace):
				return errors.New("old key grace period must be at least 5 minutes")
			}
			return err
		}

		fmt.Printf("replaced_api_key_id: %d\n", id)
		fmt.Printf("old_key_expires_in_minutes: %d\n", int(grace.Minutes()))
		printIssued(result)
		return nil
	},
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list <user_id>",
	Short: "List a user's API keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		userID, err := parseID(args[0], "user id")
		if err != nil {
			return err
		}

		apiKeyService, closeFn, err := newAPIKeyServiceForCommands()
		if err != nil {
			return err
		}
		defer closeFn()

		keys, err := apiKeyService.List(context.Background(), userID)
		if err != nil {
			return err
		}

		now := time.Now()
		for _, key := range keys {
			state := "active"
			if !key.Usable(now) {
				state = "inactive"
			}
			expires := "never"
			if key.ExpiresAt.Valid {
				expires = key.ExpiresAt.Time.Format(time.RFC3339)
			}
			fmt.Printf("%d\t%s\t...%s\t%s\texpires=%s\n", key.ID, key.Name, key.LastChars, state, expires)
		}
		return nil
	},
}

func init() {
	apiKeyIssueCmd.Flags().StringVar(&issueName, "name", "", "display name for the key")
	apiKeyIssueCmd.Flags().StringVar(&issuePlan, "plan", "", "plan override; defaults to the subscription plan")
	apiKeyIssueCmd.Flags().DurationVar(&issueExpiresIn, "expires-in", 0, "lifetime of the key, 0 for no expiry")

	apiKeyCmd.AddCommand(apiKeyIssueCmd)
	apiKeyCmd.AddCommand(apiKeyRevokeCmd)
	apiKeyCmd.AddCommand(apiKeyRotateCmd)
	apiKeyCmd.AddCommand(apiKeyListCmd)
	rootCmd.AddCommand(apiKeyCmd)
}

func newAPIKeyServiceForCommands() (service.APIKeyService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		redisClient *redis.Client
		invalidator service.Invalidator
	)
	if cfg.IdentityCacheTTL > 0 {
		redisClient, err = openRedis(cfg)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		invalidator = cache.NewRedisInvalidator(redisClient, cfg.InvalidationChannel)
	}

	apiKeyService := service.NewAPIKeyService(
		repository.NewAPIKeyRepository(db),
		repository.NewSubscriptionRepository(db),
		newCodec(cfg),
		invalidator,
	)

	closeFn := func() {
		_ = db.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
	return apiKeyService, closeFn, nil
}

func parseID(raw, what string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", what, raw)
	}
	return id, nil
}

func printIssued(result *dto.IssueAPIKeyResult) {
	fmt.Printf("api_key_id: %d\n", result.Key.ID)
	fmt.Printf("user_id: %d\n", result.Key.UserID)
	fmt.Printf("api_key: %s\n", result.Secret)
	if result.Key.RateLimitPlan.Valid {
		fmt.Printf("plan: %s\n", result.Key.RateLimitPlan.String)
	}
	if result.Key.ExpiresAt.Valid {
		fmt.Printf("expires_at: %s\n", result.Key.ExpiresAt.Time.Format(time.RFC3339))
	} else {
		fmt.Println("expires_at: never")
	}
	fmt.Println("store this key now, it cannot be shown again")
}

func promptOldKeyGraceMinutes() (time.Duration, error) {
	const defaultMinutes = 60
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("Expire old key in minutes (>=5) [%d]: ", defaultMinutes)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Duration(defaultMinutes) * time.Minute, nil
	}

	minutes, err := strconv.Atoi(input)
	if err != nil {
		return 0, errors.New("invalid number of minutes")
	}
	if minutes < 5 {
		return 0, errors.New("value must be at least 5 minutes")
	}

	return time.Duration(minutes) * time.Minute, nil
}

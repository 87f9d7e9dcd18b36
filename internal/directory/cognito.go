package directory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// cognitoAPI is the subset of the Cognito client used here
type cognitoAPI interface {
	cip.ListUsersAPIClient
	cip.AdminListGroupsForUserAPIClient
	AdminGetUser(ctx context.Context, params *cip.AdminGetUserInput, optFns ...func(*cip.Options)) (*cip.AdminGetUserOutput, error)
	DescribeUserPool(ctx context.Context, params *cip.DescribeUserPoolInput, optFns ...func(*cip.Options)) (*cip.DescribeUserPoolOutput, error)
}

// CognitoDirectory implements Directory over a Cognito user pool
type CognitoDirectory struct {
	client   cognitoAPI
	poolID   string
	pageSize int32
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// Ensure interface compliance
var _ Directory = (*CognitoDirectory)(nil)

// NewCognito builds a directory client from the default AWS credential chain
func NewCognito(ctx context.Context, cfg *config.DirectoryConfig, log zerolog.Logger) (*CognitoDirectory, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := cip.NewFromConfig(awsCfg, func(o *cip.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newCognitoDirectory(client, cfg, log), nil
}

func newCognitoDirectory(client cognitoAPI, cfg *config.DirectoryConfig, log zerolog.Logger) *CognitoDirectory {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 60 {
		pageSize = 60
	}

	return &CognitoDirectory{
		client:   client,
		poolID:   cfg.UserPoolID,
		pageSize: int32(pageSize),
		interval: cfg.PageInterval,
		timeout:  cfg.RequestTimeout,
		log:      log.With().Str("component", "directory").Str("user_pool_id", cfg.UserPoolID).Logger(),
	}
}

// Identities lists the pool page by page, pausing between pages
func (d *CognitoDirectory) Identities(ctx context.Context) iter.Seq2[*models.IdentityRecord, error] {
	return func(yield func(*models.IdentityRecord, error) bool) {
		limit := rate.Inf
		if d.interval > 0 {
			limit = rate.Every(d.interval)
		}
		limiter := rate.NewLimiter(limit, 1)

		paginator := cip.NewListUsersPaginator(d.client, &cip.ListUsersInput{
			UserPoolId: aws.String(d.poolID),
			Limit:      aws.Int32(d.pageSize),
		})

		page := 0
		for paginator.HasMorePages() {
			if err := limiter.Wait(ctx); err != nil {
				yield(nil, fmt.Errorf("list users: %w", err))
				return
			}

			out, err := d.nextPage(ctx, paginator)
			if err != nil {
				yield(nil, fmt.Errorf("list users page %d: %w", page+1, err))
				return
			}
			page++

			d.log.Debug().Int("page", page).Int("users", len(out.Users)).Msg("Fetched directory page")

			for i := range out.Users {
				if !yield(fromUserType(&out.Users[i]), nil) {
					return
				}
			}
		}
	}
}

func (d *CognitoDirectory) nextPage(ctx context.Context, p *cip.ListUsersPaginator) (*cip.ListUsersOutput, error) {
	ctx, cancel := d.callContext(ctx)
	defer cancel()
	return p.NextPage(ctx)
}

// GetIdentity fetches one identity by username
func (d *CognitoDirectory) GetIdentity(ctx context.Context, username string) (*models.IdentityRecord, error) {
	ctx, cancel := d.callContext(ctx)
	defer cancel()

	out, err := d.client.AdminGetUser(ctx, &cip.AdminGetUserInput{
		UserPoolId: aws.String(d.poolID),
		Username:   aws.String(username),
	})
	if err != nil {
		var notFound *types.UserNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, username)
		}
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}

	record := &models.IdentityRecord{
		Username:     aws.ToString(out.Username),
		Attributes:   attributeMap(out.UserAttributes),
		Enabled:      out.Enabled,
		AccountState: string(out.UserStatus),
		CreatedAt:    aws.ToTime(out.UserCreateDate),
		UpdatedAt:    aws.ToTime(out.UserLastModifiedDate),
	}
	record.ExternalID = externalID(record)
	return record, nil
}

// ListGroups returns all group names of a user, following pagination
func (d *CognitoDirectory) ListGroups(ctx context.Context, username string) ([]string, error) {
	paginator := cip.NewAdminListGroupsForUserPaginator(d.client, &cip.AdminListGroupsForUserInput{
		UserPoolId: aws.String(d.poolID),
		Username:   aws.String(username),
	})

	groups := []string{}
	for paginator.HasMorePages() {
		out, err := d.nextGroupsPage(ctx, paginator)
		if err != nil {
			return nil, fmt.Errorf("list groups for %s: %w", username, err)
		}
		for _, g := range out.Groups {
			if name := aws.ToString(g.GroupName); name != "" {
				groups = append(groups, name)
			}
		}
	}
	return groups, nil
}

func (d *CognitoDirectory) nextGroupsPage(ctx context.Context, p *cip.AdminListGroupsForUserPaginator) (*cip.AdminListGroupsForUserOutput, error) {
	ctx, cancel := d.callContext(ctx)
	defer cancel()
	return p.NextPage(ctx)
}

// Describe returns pool name, id and estimated size
func (d *CognitoDirectory) Describe(ctx context.Context) (*models.PoolInfo, error) {
	ctx, cancel := d.callContext(ctx)
	defer cancel()

	out, err := d.client.DescribeUserPool(ctx, &cip.DescribeUserPoolInput{
		UserPoolId: aws.String(d.poolID),
	})
	if err != nil {
		return nil, fmt.Errorf("describe user pool: %w", err)
	}
	if out.UserPool == nil {
		return nil, fmt.Errorf("describe user pool: empty response")
	}

	return &models.PoolInfo{
		ID:             aws.ToString(out.UserPool.Id),
		Name:           aws.ToString(out.UserPool.Name),
		EstimatedUsers: int(out.UserPool.EstimatedNumberOfUsers),
		CreatedAt:      aws.ToTime(out.UserPool.CreationDate),
	}, nil
}

func (d *CognitoDirectory) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

func fromUserType(u *types.UserType) *models.IdentityRecord {
	record := &models.IdentityRecord{
		Username:     aws.ToString(u.Username),
		Attributes:   attributeMap(u.Attributes),
		Enabled:      u.Enabled,
		AccountState: string(u.UserStatus),
		CreatedAt:    aws.ToTime(u.UserCreateDate),
		UpdatedAt:    aws.ToTime(u.UserLastModifiedDate),
	}
	record.ExternalID = externalID(record)
	return record
}

// externalID is the immutable sub attribute, falling back to the username
func externalID(r *models.IdentityRecord) string {
	if sub := r.Attribute("sub"); sub != "" {
		return sub
	}
	return r.Username
}

func attributeMap(attrs []types.AttributeType) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Name == nil {
			continue
		}
		m[*a.Name] = aws.ToString(a.Value)
	}
	return m
}

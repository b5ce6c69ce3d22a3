// Package dynamodb stores presence sessions in an Amazon DynamoDB table.
//
// The table is keyed by "id" (string) and needs a global secondary index
// named by IndexUserID with partition key "user_id" for OpenSession.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// IndexUserID is the GSI used to find a user's open session.
const IndexUserID = "user_id-index"

// API is the subset of the DynamoDB client used by SessionStore.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
func NewClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// SessionStore implements the presence session contract on DynamoDB.
type SessionStore struct {
	api    API
	table  string
	logger *slog.Logger
}

// NewSessionStore creates a store writing to table.
func NewSessionStore(api API, table string, logger *slog.Logger) *SessionStore {
	return &SessionStore{api: api, table: table, logger: logger}
}

type sessionItem struct {
	ID        string                `dynamodbav:"id"`
	VenueID   string                `dynamodbav:"venue_id"`
	UserID    string                `dynamodbav:"user_id"`
	StartedAt time.Time             `dynamodbav:"started_at"`
	EndedAt   *time.Time            `dynamodbav:"ended_at,omitempty"`
	Context   domain.SessionContext `dynamodbav:"context"`
}

// CreateSession writes a new open session and returns its id.
func (s *SessionStore) CreateSession(ctx context.Context, venueID, userID string, snapshot domain.SessionContext) (string, error) {
	started := snapshot.At
	if started.IsZero() {
		started = domain.Now()
	}
	item := sessionItem{
		ID:        uuid.NewString(),
		VenueID:   venueID,
		UserID:    userID,
		StartedAt: started.UTC(),
		Context:   snapshot,
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return "", fmt.Errorf("put session: %w", err)
	}

	s.logger.Debug("session created", "session_id", item.ID, "venue_id", venueID)
	return item.ID, nil
}

// CloseSession stamps ended_at on an open session. Unknown or already
// closed sessions return domain.ErrSessionNotOpen.
func (s *SessionStore) CloseSession(ctx context.Context, sessionID string) error {
	ended, err := attributevalue.Marshal(domain.Now())
	if err != nil {
		return fmt.Errorf("marshal ended_at: %w", err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: sessionID},
		},
		UpdateExpression:          aws.String("SET ended_at = :ended"),
		ConditionExpression:       aws.String("attribute_exists(id) AND attribute_not_exists(ended_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":ended": ended},
	})

	var ccf *types.ConditionalCheckFailedException
	switch {
	case errors.As(err, &ccf):
		return fmt.Errorf("close session %s: %w", sessionID, domain.ErrSessionNotOpen)
	case err != nil:
		return fmt.Errorf("update session: %w", err)
	}

	s.logger.Debug("session closed", "session_id", sessionID)
	return nil
}

// OpenSession returns the user's most recent open session, if any.
func (s *SessionStore) OpenSession(ctx context.Context, userID string) (domain.Session, bool, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(IndexUserID),
		KeyConditionExpression: aws.String("user_id = :user"),
		FilterExpression:       aws.String("attribute_not_exists(ended_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user": &types.AttributeValueMemberS{Value: userID},
		},
	}

	var (
		latest sessionItem
		found  bool
	)
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return domain.Session{}, false, fmt.Errorf("query open sessions: %w", err)
		}

		var items []sessionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return domain.Session{}, false, fmt.Errorf("unmarshal sessions: %w", err)
		}
		for _, it := range items {
			if !found || it.StartedAt.After(latest.StartedAt) {
				latest, found = it, true
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	if !found {
		return domain.Session{}, false, nil
	}
	return domain.Session{
		ID:        latest.ID,
		VenueID:   latest.VenueID,
		UserID:    latest.UserID,
		StartedAt: latest.StartedAt,
		EndedAt:   latest.EndedAt,
		Context:   latest.Context,
	}, true, nil
}

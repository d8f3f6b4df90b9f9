package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const runTTL = 24 * time.Hour

// RunStatus is the lifecycle of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted view of one delegated request.
type Run struct {
	CorrelationID string    `dynamodbav:"correlationId" json:"correlation_id"`
	WorkflowID    string    `dynamodbav:"workflowId" json:"workflow_id"`
	UserID        string    `dynamodbav:"userId" json:"user_id"`
	Channel       string    `dynamodbav:"channel,omitempty" json:"channel,omitempty"`
	Status        RunStatus `dynamodbav:"status" json:"status"`
	Reply         string    `dynamodbav:"reply,omitempty" json:"reply,omitempty"`
	ErrorMessage  string    `dynamodbav:"errorMessage,omitempty" json:"error,omitempty"`
	CreatedAt     string    `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt     string    `dynamodbav:"updatedAt" json:"updated_at"`
	ExpiresAt     int64     `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// RunStore records workflow runs keyed by correlation id.
type RunStore interface {
	// Claim inserts a pending run and fails with ErrRunExists on a duplicate.
	Claim(ctx context.Context, rec Record) error
	MarkCompleted(ctx context.Context, correlationID, reply string) error
	MarkFailed(ctx context.Context, correlationID, errMsg string) error
	GetRun(ctx context.Context, correlationID string) (*Run, error)
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoRunStore keeps runs in a DynamoDB table with an expiresAt TTL.
type DynamoRunStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

var _ RunStore = (*DynamoRunStore)(nil)

// NewDynamoRunStore builds a store on the given table.
func NewDynamoRunStore(client dynamoAPI, tableName string, logger *logging.Logger) (*DynamoRunStore, error) {
	if client == nil {
		return nil, errors.New("workflow: dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("workflow: runs table name is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRunStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *DynamoRunStore) Claim(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	now := s.now()
	stamp := now.Format(time.RFC3339Nano)
	run := Run{
		CorrelationID: rec.CorrelationID,
		WorkflowID:    rec.WorkflowID,
		UserID:        rec.Payload.UserID,
		Channel:       rec.Payload.Channel,
		Status:        RunStatusPending,
		CreatedAt:     stamp,
		UpdatedAt:     stamp,
		ExpiresAt:     now.Add(runTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("workflow: marshal run: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(correlationId)"),
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return fmt.Errorf("%w: %s", ErrRunExists, rec.CorrelationID)
		}
		return fmt.Errorf("workflow: claim run %s: %w", rec.CorrelationID, err)
	}
	return nil
}

func (s *DynamoRunStore) MarkCompleted(ctx context.Context, correlationID, reply string) error {
	return s.finish(ctx, correlationID, RunStatusCompleted, reply, "")
}

func (s *DynamoRunStore) MarkFailed(ctx context.Context, correlationID, errMsg string) error {
	return s.finish(ctx, correlationID, RunStatusFailed, "", errMsg)
}

func (s *DynamoRunStore) GetRun(ctx context.Context, correlationID string) (*Run, error) {
	if correlationID == "" {
		return nil, errors.New("workflow: correlation id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       runKey(correlationID),
	})
	if err != nil {
		return nil, fmt.Errorf("workflow: get run %s: %w", correlationID, err)
	}
	if out.Item == nil {
		return nil, ErrRunNotFound
	}
	var run Run
	if err := attributevalue.UnmarshalMap(out.Item, &run); err != nil {
		return nil, fmt.Errorf("workflow: decode run %s: %w", correlationID, err)
	}
	return &run, nil
}

// finish sets the terminal status. status, reply and errorMessage are aliased
// because "status" is a DynamoDB reserved word.
func (s *DynamoRunStore) finish(ctx context.Context, correlationID string, status RunStatus, reply, errMsg string) error {
	if correlationID == "" {
		return errors.New("workflow: correlation id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              runKey(correlationID),
		UpdateExpression: aws.String("SET #status = :status, #reply = :reply, #error = :error, #updated = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#reply":   "reply",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(status)},
			":reply":   &types.AttributeValueMemberS{Value: reply},
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: s.now().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(correlationId)"),
	})
	if err != nil {
		return fmt.Errorf("workflow: mark run %s %s: %w", correlationID, status, err)
	}
	s.logger.Debug("workflow run finished", "correlation_id", correlationID, "status", status)
	return nil
}

func runKey(correlationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"correlationId": &types.AttributeValueMemberS{Value: correlationID},
	}
}

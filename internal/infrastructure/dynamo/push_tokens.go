package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hotelna-core/internal/domain"
)

const (
	// BatchGetItem accepts at most 100 keys per call.
	maxBatchGet = 100
	// maxBatchRounds bounds the calls spent on keys DynamoDB left unprocessed.
	maxBatchRounds = 5
)

// unprocessedBackoff is the wait before the first retry of unprocessed keys.
var unprocessedBackoff = 50 * time.Millisecond

// PushTokenAPI is the part of *dynamodb.Client the push token repo uses.
type PushTokenAPI interface {
	dynamodb.QueryAPIClient
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// PushTokenRepo stores device push tokens. PK: token
type PushTokenRepo struct {
	client    PushTokenAPI
	tableName string
}

func NewPushTokenRepo(client PushTokenAPI, tableName string) *PushTokenRepo {
	return &PushTokenRepo{client: client, tableName: tableName}
}

// Upsert registers t. Re-registering a retired token reactivates it.
func (r *PushTokenRepo) Upsert(ctx context.Context, t *domain.PushToken) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal push token: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// ListActiveByUser returns the tokens a user can currently be reached on.
func (r *PushTokenRepo) ListActiveByUser(ctx context.Context, userID string) ([]domain.PushToken, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("user_id-index"),
		KeyConditionExpression: aws.String("user_id = :u"),
		FilterExpression:       aws.String("active = :a"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
			":a": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	var tokens []domain.PushToken
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var page []domain.PushToken
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		tokens = append(tokens, page...)
	}
	return tokens, nil
}

// Inactive returns the subset of tokens known to be retired. Unknown tokens
// are not in the result. Keys DynamoDB leaves unprocessed are retried; if some
// remain after maxBatchRounds calls the lookup fails rather than report them
// as active.
func (r *PushTokenRepo) Inactive(ctx context.Context, tokens []string) (map[string]bool, error) {
	inactive := make(map[string]bool)
	for start := 0; start < len(tokens); start += maxBatchGet {
		end := min(start+maxBatchGet, len(tokens))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		seen := make(map[string]bool, end-start)
		for _, tok := range tokens[start:end] {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			keys = append(keys, strKey("token", tok))
		}
		if err := r.collectInactive(ctx, keys, inactive); err != nil {
			return nil, err
		}
	}
	return inactive, nil
}

func (r *PushTokenRepo) collectInactive(ctx context.Context, keys []map[string]types.AttributeValue, inactive map[string]bool) error {
	wait := unprocessedBackoff
	for round := 1; len(keys) > 0; round++ {
		if round > maxBatchRounds {
			return fmt.Errorf("push token lookup: %d keys unprocessed after %d calls", len(keys), maxBatchRounds)
		}
		if round > 1 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			wait *= 2
		}
		out, err := r.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				r.tableName: {
					Keys:                     keys,
					ProjectionExpression:     aws.String("#t, active"),
					ExpressionAttributeNames: map[string]string{"#t": "token"},
				},
			},
		})
		if err != nil {
			return err
		}
		for _, item := range out.Responses[r.tableName] {
			var t domain.PushToken
			if err := attributevalue.UnmarshalMap(item, &t); err != nil {
				return err
			}
			if !t.Active {
				inactive[t.Token] = true
			}
		}
		keys = out.UnprocessedKeys[r.tableName].Keys
	}
	return nil
}

// Deactivate retires a token reported as unregistered by the push provider.
// Tokens never registered here are recorded as retired so later sends skip
// them. It reports false when the token was already retired.
func (r *PushTokenRepo) Deactivate(ctx context.Context, token string) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("token", token),
		UpdateExpression:    aws.String("SET #a = :off, #u = :now"),
		ConditionExpression: aws.String("attribute_not_exists(#t) OR #a = :on"),
		ExpressionAttributeNames: map[string]string{
			"#t": "token",
			"#a": fieldActive,
			"#u": fieldUpdatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":off": &types.AttributeValueMemberBOOL{Value: false},
			":on":  &types.AttributeValueMemberBOOL{Value: true},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

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

// VerificationRepo manages one-time verification codes.
// PK: subject, SK: purpose
type VerificationRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewVerificationRepo(client *dynamodb.Client, tableName string) *VerificationRepo {
	return &VerificationRepo{client: client, tableName: tableName}
}

// Get returns the stored code for the pair. Expired records that TTL has not
// yet swept are returned as-is; callers check Expired.
func (r *VerificationRepo) Get(ctx context.Context, subject string, purpose domain.Purpose) (*domain.VerificationCode, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey("subject", subject, "purpose", string(purpose)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrCodeNotFound)
	}
	var v domain.VerificationCode
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Replace writes next, succeeding only if the stored record is still prev
// (or absent when prev is nil). A lost race returns domain.ErrConflict.
func (r *VerificationRepo) Replace(ctx context.Context, next, prev *domain.VerificationCode) error {
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}
	if prev == nil {
		in.ConditionExpression = aws.String("attribute_not_exists(subject)")
	} else {
		in.ConditionExpression = aws.String("code_hash = :h")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: prev.CodeHash},
		}
	}
	_, err = r.client.PutItem(ctx, in)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("verification for %s changed concurrently: %w", next.Subject, domain.ErrConflict)
	}
	return err
}

// Consume deletes v only if it has not been replaced or consumed since it was
// read, so each code is accepted at most once.
func (r *VerificationRepo) Consume(ctx context.Context, v *domain.VerificationCode) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey("subject", v.Subject, "purpose", string(v.Purpose)),
		ConditionExpression: aws.String("code_hash = :h AND expires_at > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h":   &types.AttributeValueMemberS{Value: v.CodeHash},
			":now": &types.AttributeValueMemberN{Value: fmt.Sprint(time.Now().Unix())},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("verification already used: %w", domain.ErrCodeNotFound)
	}
	return err
}

func (r *VerificationRepo) Delete(ctx context.Context, subject string, purpose domain.Purpose) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("subject", subject, "purpose", string(purpose)),
	})
	return err
}

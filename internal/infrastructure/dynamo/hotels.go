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

// HotelRepo provides typed DynamoDB operations for the hotels table.
type HotelRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewHotelRepo(client *dynamodb.Client, tableName string) *HotelRepo {
	return &HotelRepo{client: client, tableName: tableName}
}

func (r *HotelRepo) Create(ctx context.Context, h *domain.Hotel) error {
	item, err := attributevalue.MarshalMap(h)
	if err != nil {
		return fmt.Errorf("marshal hotel: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(hotel_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("hotel %s exists: %w", h.HotelID, domain.ErrConflict)
	}
	return err
}

// KeyExists reports whether a hotel already uses key. Hotel keys are the
// short codes guests scan, so they must be unique.
func (r *HotelRepo) KeyExists(ctx context.Context, key string) (bool, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("hotel_key-index"),
		KeyConditionExpression: aws.String("hotel_key = :k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: key},
		},
		Select: types.SelectCount,
	})
	if err != nil {
		return false, err
	}
	return out.Count > 0, nil
}

// SetImages replaces the hotel's asset reference list.
func (r *HotelRepo) SetImages(ctx context.Context, hotelID string, imageIDs []string) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldImages:    imageIDs,
		fieldUpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("hotel_id", hotelID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(hotel_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("hotel not found: %w", domain.ErrNotFound)
	}
	return err
}

func (r *HotelRepo) Delete(ctx context.Context, hotelID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("hotel_id", hotelID),
	})
	return err
}

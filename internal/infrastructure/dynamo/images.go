package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hotelna-core/internal/domain"
)

// ImageRepo stores asset metadata for objects kept in S3.
type ImageRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewImageRepo(client *dynamodb.Client, tableName string) *ImageRepo {
	return &ImageRepo{client: client, tableName: tableName}
}

func (r *ImageRepo) Put(ctx context.Context, img *domain.Image) error {
	item, err := attributevalue.MarshalMap(img)
	if err != nil {
		return fmt.Errorf("marshal image: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *ImageRepo) ListByHotel(ctx context.Context, hotelID string) ([]domain.Image, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("hotel_id-index"),
		KeyConditionExpression: aws.String("hotel_id = :h"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: hotelID},
		},
	})
	if err != nil {
		return nil, err
	}
	var images []domain.Image
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &images); err != nil {
		return nil, err
	}
	return images, nil
}

func (r *ImageRepo) Delete(ctx context.Context, imageID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("image_id", imageID),
	})
	return err
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/noah-isme/sma-commerce-api/internal/models"
)

const paymentEventsOrderIndex = "order_id-index"

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// PaymentEventRepository appends payment audit events to DynamoDB.
//
// Table requirements:
//   - PK: id (string)
//   - GSI: order_id-index (PK: order_id number)
type PaymentEventRepository struct {
	ddb       dynamoAPI
	tableName string
}

// NewPaymentEventRepository constructs the repository.
func NewPaymentEventRepository(ddb *dynamodb.Client, tableName string) *PaymentEventRepository {
	return &PaymentEventRepository{ddb: ddb, tableName: tableName}
}

// Append writes the event once. Replaying an event id is a successful no-op.
func (r *PaymentEventRepository) Append(ctx context.Context, event models.PaymentEvent) error {
	item, err := attributevalue.MarshalMap(event)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}

	_, err = r.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return nil
		}
		return fmt.Errorf("put payment event: %w", err)
	}
	return nil
}

// ListByOrder returns the audit trail of one order.
func (r *PaymentEventRepository) ListByOrder(ctx context.Context, orderID int64) ([]models.PaymentEvent, error) {
	out, err := r.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(paymentEventsOrderIndex),
		KeyConditionExpression: aws.String("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberN{Value: strconv.FormatInt(orderID, 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query payment events: %w", err)
	}

	events := make([]models.PaymentEvent, 0, len(out.Items))
	for _, raw := range out.Items {
		var event models.PaymentEvent
		if err := attributevalue.UnmarshalMap(raw, &event); err != nil {
			return nil, fmt.Errorf("unmarshal payment event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/quii/vue-fast-sub001/models"
)

// DynamoAPI is the subset of *dynamodb.Client the repository uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoShootItem is the stored item. TTL is the table's time-to-live attribute,
// so DynamoDB removes expired shoots on its own schedule.
type dynamoShootItem struct {
	Code    string        `dynamodbav:"code"`
	Version int64         `dynamodbav:"version"`
	TTL     int64         `dynamodbav:"ttl"`
	Shoot   *models.Shoot `dynamodbav:"shoot"`
}

type dynamoShootRepository struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

func NewDynamoShootRepository(client DynamoAPI, tableName string, now func() time.Time) ShootRepository {
	if now == nil {
		now = time.Now
	}
	return &dynamoShootRepository{client: client, tableName: tableName, now: now}
}

func (r *dynamoShootRepository) Create(ctx context.Context, shoot *models.Shoot) error {
	item, err := r.marshalItem(shoot)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#code) OR #ttl <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#code": "code",
			"#ttl":  "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": numberValue(r.now().Unix()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("failed to put shoot %s in table '%s': %w", shoot.Code, r.tableName, err)
	}
	return nil
}

func (r *dynamoShootRepository) Get(ctx context.Context, code string) (*models.Shoot, error) {
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            codeKey(code),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get shoot %s from table '%s': %w", code, r.tableName, err)
	}
	if output.Item == nil {
		return nil, ErrShootNotFound
	}

	var item dynamoShootItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shoot %s: %w", code, err)
	}
	// TTL deletion lags behind expiry, so check it here.
	if item.Shoot == nil || item.Shoot.IsExpired(r.now()) {
		return nil, ErrShootNotFound
	}
	return item.Shoot, nil
}

func (r *dynamoShootRepository) Save(ctx context.Context, shoot *models.Shoot, expectedVersion int64) error {
	item, err := r.marshalItem(shoot)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("#version = :expected AND #ttl > :now"),
		ExpressionAttributeNames: map[string]string{
			"#version": "version",
			"#ttl":     "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": numberValue(expectedVersion),
			":now":      numberValue(r.now().Unix()),
		},
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return fmt.Errorf("failed to save shoot %s in table '%s': %w", shoot.Code, r.tableName, err)
	}
	exists, existsErr := r.CodeExists(ctx, shoot.Code)
	if existsErr != nil {
		return existsErr
	}
	if !exists {
		return ErrShootNotFound
	}
	return ErrVersionConflict
}

func (r *dynamoShootRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := r.Get(ctx, code)
	if errors.Is(err, ErrShootNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *dynamoShootRepository) DeleteExpired(ctx context.Context, code string, now time.Time) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      codeKey(code),
		ConditionExpression:      aws.String("attribute_exists(#code) AND #ttl <= :now"),
		ExpressionAttributeNames: map[string]string{"#code": "code", "#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": numberValue(now.Unix()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrShootNotFound
		}
		return fmt.Errorf("failed to delete shoot %s from table '%s': %w", code, r.tableName, err)
	}
	return nil
}

func (r *dynamoShootRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Shoot, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                aws.String(r.tableName),
		FilterExpression:         aws.String("#ttl <= :now"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": numberValue(now.Unix()),
		},
	})

	var shoots []*models.Shoot
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired shoots in table '%s': %w", r.tableName, err)
		}
		var items []dynamoShootItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal expired shoots: %w", err)
		}
		for _, item := range items {
			if item.Shoot != nil {
				shoots = append(shoots, item.Shoot)
			}
		}
	}
	return shoots, nil
}

func (r *dynamoShootRepository) marshalItem(shoot *models.Shoot) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(dynamoShootItem{
		Code:    shoot.Code,
		Version: shoot.Version,
		TTL:     ttlSeconds(shoot.ExpiresAt),
		Shoot:   shoot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal shoot %s: %w", shoot.Code, err)
	}
	return item, nil
}

// ttlSeconds rounds up to whole seconds so an item is never reported expired early.
func ttlSeconds(t time.Time) int64 {
	return t.Add(time.Second - time.Nanosecond).Unix()
}

func codeKey(code string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"code": &types.AttributeValueMemberS{Value: code},
	}
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"starchat/internal/domain"
)

const (
	pkPrefixStar  = "STAR#"
	pkPrefixUser  = "USER#"
	skPrefixExch  = "EXCH#"
	skPrefixStar  = "STAR#"
	skStarLock    = "STAR"
	conditionFail = "ConditionalCheckFailed"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoClient.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoClient stores exchanges and star markers in a single DynamoDB table.
//
// Everything a user owns lives in the USER#<userId> partition:
// exchanges under SK=EXCH#<id> and markers under SK=STAR#<exchangeId>, so
// listings are strongly consistent base-table queries. Each marker also has a
// lock item at PK=STAR#<exchangeId>, SK=STAR that holds one marker per
// exchange; the two are always written and deleted in one transaction.
type DynamoClient struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new DynamoClient.
func New(api dynamodbAPI, tableName string) (*DynamoClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoClient{api: api, tableName: tableName}, nil
}

var now = func() time.Time {
	return time.Now().UTC()
}

var newID = func() string {
	return uuid.NewString()
}

func userPK(userID string) string         { return pkPrefixUser + userID }
func exchangeSK(exchangeID string) string { return skPrefixExch + exchangeID }
func starSK(exchangeID string) string     { return skPrefixStar + exchangeID }
func starLockPK(exchangeID string) string { return pkPrefixStar + exchangeID }

// CreateExchange writes a new exchange with a fresh id and creation time.
func (c *DynamoClient) CreateExchange(ctx context.Context, userID, message, response, modelID string) (domain.Exchange, error) {
	ex := domain.Exchange{
		ID:        newID(),
		UserID:    userID,
		Message:   message,
		Response:  response,
		ModelUsed: modelID,
		CreatedAt: now(),
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                exchangeItem(ex),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("repository: CreateExchange: %w", err)
	}
	return ex, nil
}

// GetExchange reads one exchange owned by userID.
func (c *DynamoClient) GetExchange(ctx context.Context, userID, exchangeID string) (domain.Exchange, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            recordKey(userPK(userID), exchangeSK(exchangeID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("repository: GetExchange get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Exchange{}, fmt.Errorf("repository: GetExchange %q: %w", exchangeID, domain.ErrNotFound)
	}
	ex, err := itemToExchange(out.Item)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("repository: GetExchange unmarshal: %w", err)
	}
	return ex, nil
}

// ListExchanges returns every exchange owned by userID, in key order.
func (c *DynamoClient) ListExchanges(ctx context.Context, userID string) ([]domain.Exchange, error) {
	items, err := c.queryUser(ctx, userID, skPrefixExch)
	if err != nil {
		return nil, fmt.Errorf("repository: ListExchanges: %w", err)
	}
	out := make([]domain.Exchange, 0, len(items))
	for _, item := range items {
		ex, err := itemToExchange(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListExchanges unmarshal: %w", err)
		}
		out = append(out, ex)
	}
	return out, nil
}

// CreateStarMarker writes the marker for exchangeID, failing with
// domain.ErrStarExists if one is already there.
func (c *DynamoClient) CreateStarMarker(ctx context.Context, userID, exchangeID string) (domain.StarMarker, error) {
	m := domain.StarMarker{
		ID:         newID(),
		UserID:     userID,
		ExchangeID: exchangeID,
		StarredAt:  now(),
	}
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                starItem(m, starLockPK(exchangeID), skStarLock),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      starItem(m, userPK(userID), starSK(exchangeID)),
				},
			},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return domain.StarMarker{}, fmt.Errorf("repository: CreateStarMarker %q: %w", exchangeID, domain.ErrStarExists)
		}
		return domain.StarMarker{}, fmt.Errorf("repository: CreateStarMarker: %w", err)
	}
	return m, nil
}

// FindStarMarker looks up the marker for exchangeID.
func (c *DynamoClient) FindStarMarker(ctx context.Context, exchangeID string) (domain.StarMarker, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            recordKey(starLockPK(exchangeID), skStarLock),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.StarMarker{}, false, fmt.Errorf("repository: FindStarMarker get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.StarMarker{}, false, nil
	}
	m, err := itemToStarMarker(out.Item)
	if err != nil {
		return domain.StarMarker{}, false, fmt.Errorf("repository: FindStarMarker unmarshal: %w", err)
	}
	return m, true, nil
}

// DeleteStarMarker removes exactly the given marker. A marker that is gone, or
// was replaced by a newer one, yields domain.ErrNotFound.
func (c *DynamoClient) DeleteStarMarker(ctx context.Context, marker domain.StarMarker) error {
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName:                aws.String(c.tableName),
					Key:                      recordKey(starLockPK(marker.ExchangeID), skStarLock),
					ConditionExpression:      aws.String("#id = :id"),
					ExpressionAttributeNames: map[string]string{"#id": "id"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id": &types.AttributeValueMemberS{Value: marker.ID},
					},
				},
			},
			{
				Delete: &types.Delete{
					TableName: aws.String(c.tableName),
					Key:       recordKey(userPK(marker.UserID), starSK(marker.ExchangeID)),
				},
			},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("repository: DeleteStarMarker %q: %w", marker.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("repository: DeleteStarMarker: %w", err)
	}
	return nil
}

// ListStarMarkers returns every marker owned by userID, in key order.
func (c *DynamoClient) ListStarMarkers(ctx context.Context, userID string) ([]domain.StarMarker, error) {
	items, err := c.queryUser(ctx, userID, skPrefixStar)
	if err != nil {
		return nil, fmt.Errorf("repository: ListStarMarkers: %w", err)
	}
	out := make([]domain.StarMarker, 0, len(items))
	for _, item := range items {
		m, err := itemToStarMarker(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListStarMarkers unmarshal: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// queryUser pages through one user's partition for a record-kind prefix.
func (c *DynamoClient) queryUser(ctx context.Context, userID, prefix string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ConsistentRead: aws.Bool(true),
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// isConditionalCheckFailed reports a failed condition on a single-item write
// or on any item of a cancelled transaction.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, r := range tce.CancellationReasons {
		if aws.ToString(r.Code) == conditionFail {
			return true
		}
	}
	return false
}

func recordKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func exchangeItem(ex domain.Exchange) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(ex.UserID)},
		"SK":        &types.AttributeValueMemberS{Value: exchangeSK(ex.ID)},
		"id":        &types.AttributeValueMemberS{Value: ex.ID},
		"userId":    &types.AttributeValueMemberS{Value: ex.UserID},
		"message":   &types.AttributeValueMemberS{Value: ex.Message},
		"response":  &types.AttributeValueMemberS{Value: ex.Response},
		"modelUsed": &types.AttributeValueMemberS{Value: ex.ModelUsed},
		"createdAt": &types.AttributeValueMemberS{Value: ex.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func starItem(m domain.StarMarker, pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: pk},
		"SK":         &types.AttributeValueMemberS{Value: sk},
		"id":         &types.AttributeValueMemberS{Value: m.ID},
		"userId":     &types.AttributeValueMemberS{Value: m.UserID},
		"exchangeId": &types.AttributeValueMemberS{Value: m.ExchangeID},
		"starredAt":  &types.AttributeValueMemberS{Value: m.StarredAt.UTC().Format(time.RFC3339Nano)},
	}
}

// itemToExchange converts a DynamoDB attribute map to an Exchange.
func itemToExchange(item map[string]types.AttributeValue) (domain.Exchange, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Exchange{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Exchange{}, err
	}
	message, err := strAttr(item, "message")
	if err != nil {
		return domain.Exchange{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Exchange{}, err
	}
	response, _ := strAttr(item, "response") // allow empty
	modelUsed, _ := strAttr(item, "modelUsed")

	return domain.Exchange{
		ID:        id,
		UserID:    userID,
		Message:   message,
		Response:  response,
		ModelUsed: modelUsed,
		CreatedAt: createdAt,
	}, nil
}

// itemToStarMarker converts a DynamoDB attribute map to a StarMarker.
func itemToStarMarker(item map[string]types.AttributeValue) (domain.StarMarker, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.StarMarker{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.StarMarker{}, err
	}
	exchangeID, err := strAttr(item, "exchangeId")
	if err != nil {
		return domain.StarMarker{}, err
	}
	starredAt, err := timeAttr(item, "starredAt")
	if err != nil {
		return domain.StarMarker{}, err
	}
	return domain.StarMarker{
		ID:         id,
		UserID:     userID,
		ExchangeID: exchangeID,
		StarredAt:  starredAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts.UTC(), nil
}

package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const (
	pkPrefix = "CLAIM#"
	skMeta   = "META"
)

// DynamoAPI is the subset of *dynamodb.Client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore implements ClaimStore on a single DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

var _ ClaimStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for tableName. A ttl of zero means
// SessionTTL.
func NewDynamoStore(client DynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

// TableName returns the backing table.
func (s *DynamoStore) TableName() string {
	return s.tableName
}

func claimPK(claimID string) string {
	return pkPrefix + claimID
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// PutClaim writes rec with a refreshed expiry.
func (s *DynamoStore) PutClaim(ctx context.Context, rec *ClaimRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal claim %s: %w", rec.ID, err)
	}

	pk := claimPK(rec.ID)
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, skMeta, err)
	}
	log.Debug().Str("claim", rec.ID).Str("status", rec.Status).Msg("Claim record written")
	return nil
}

// GetClaim reads a claim. Records past their expiry that DynamoDB has not
// yet swept are treated as missing.
func (s *DynamoStore) GetClaim(ctx context.Context, claimID string) (*ClaimRecord, error) {
	pk := claimPK(claimID)
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(pk, skMeta),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, skMeta, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	if exp, ok := out.Item["expiresAt"].(*types.AttributeValueMemberN); ok {
		if sec, err := strconv.ParseInt(exp.Value, 10, 64); err == nil && sec < s.now().Unix() {
			return nil, nil
		}
	}

	var rec ClaimRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, skMeta, err)
	}
	rec.ID = claimID
	return &rec, nil
}

// DeleteClaim removes a claim record. Deleting a missing record succeeds.
func (s *DynamoStore) DeleteClaim(ctx context.Context, claimID string) error {
	pk := claimPK(claimID)
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: &s.tableName, Key: keyOf(pk, skMeta)}); err != nil {
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", pk, skMeta, err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

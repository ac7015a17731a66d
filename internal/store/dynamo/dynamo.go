// Package dynamo is the durable session store for the stateless
// deployment shape: a single DynamoDB table with composite PK/SK keys.
//
// Key layout:
//
//	CONNECTION#{sid} / METADATA      connection record (+ ttl)
//	USER#{uid}       / CURRENT       reverse index, one per user
//	ROOM#{room}      / METADATA      participant counter
//	ROOM#{room}      / SESSION#{sid} room membership entry
//	SESSION#{sid}    / ROOM#{room}   membership reverse index
//	CALL#{call}      / PEER#{uid}    peer-set entry
//	CALL#{call}      / ICE#{uid}     pending candidate queue
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/store"
)

// api is the slice of the DynamoDB client this store uses.
type api interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type Store struct {
	client api
	table  string
	// ttl bounds how long orphaned connection records linger; zero
	// disables the attribute.
	ttl time.Duration
}

func New(client *dynamodb.Client, table string, ttl time.Duration) *Store {
	return &Store{client: client, table: table, ttl: ttl}
}

var _ store.SessionStore = (*Store)(nil)

func connPK(sid domain.SessionID) string { return "CONNECTION#" + string(sid) }
func userPK(uid domain.UserID) string    { return fmt.Sprintf("USER#%d", uid) }
func roomPK(room domain.RoomID) string   { return "ROOM#" + string(room) }

func sessionPK(sid domain.SessionID) string { return "SESSION#" + string(sid) }
func callPK(call domain.CallID) string      { return fmt.Sprintf("CALL#%d", call) }

func sessionSK(sid domain.SessionID) string { return "SESSION#" + string(sid) }
func roomSK(room domain.RoomID) string      { return "ROOM#" + string(room) }
func peerSK(uid domain.UserID) string       { return fmt.Sprintf("PEER#%d", uid) }
func callSK(call domain.CallID) string      { return fmt.Sprintf("CALL#%d", call) }
func iceSK(uid domain.UserID) string        { return fmt.Sprintf("ICE#%d", uid) }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *Store) RegisterConnection(ctx context.Context, sid domain.SessionID, uid domain.UserID) error {
	now := time.Now().UTC()

	// Drop the forward record of any session this one supersedes, so the
	// stale sid stops resolving. The reverse index is a single item per
	// user and is simply overwritten below.
	if old, ok, err := s.SessionByUser(ctx, uid); err == nil && ok && old != sid {
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       key(connPK(old), "METADATA"),
		}); err != nil {
			log.Warn().Err(err).Str("module", "store.dynamo").Str("sid", string(old)).Msg("evict superseded connection")
		}
	}

	item := map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: connPK(sid)},
		"SK":           &types.AttributeValueMemberS{Value: "METADATA"},
		"connectionId": &types.AttributeValueMemberS{Value: string(sid)},
		"userId":       &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(uid), 10)},
		"connectedAt":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	if s.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).Unix(), 10)}
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put connection: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: userPK(uid)},
			"SK":           &types.AttributeValueMemberS{Value: "CURRENT"},
			"connectionId": &types.AttributeValueMemberS{Value: string(sid)},
			"connectedAt":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}); err != nil {
		return fmt.Errorf("put reverse index: %w", err)
	}
	return nil
}

func (s *Store) UnregisterConnection(ctx context.Context, sid domain.SessionID) error {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          key(connPK(sid), "METADATA"),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if len(out.Attributes) == 0 {
		return nil // already gone, idempotent
	}
	uid, err := numAttr(out.Attributes, "userId")
	if err != nil {
		return err
	}

	// Remove the reverse index only while it still points at this session;
	// a newer session may have superseded it.
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 key(userPK(domain.UserID(uid)), "CURRENT"),
		ConditionExpression: aws.String("connectionId = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: string(sid)},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("delete reverse index: %w", err)
	}
	return nil
}

func (s *Store) SessionByUser(ctx context.Context, uid domain.UserID) (domain.SessionID, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       key(userPK(uid), "CURRENT"),
	})
	if err != nil {
		return "", false, fmt.Errorf("get reverse index: %w", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}
	sid, err := strAttr(out.Item, "connectionId")
	if err != nil {
		return "", false, err
	}
	return domain.SessionID(sid), true, nil
}

func (s *Store) UserBySession(ctx context.Context, sid domain.SessionID) (domain.UserID, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       key(connPK(sid), "METADATA"),
	})
	if err != nil {
		return 0, false, fmt.Errorf("get connection: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, false, nil
	}
	uid, err := numAttr(out.Item, "userId")
	if err != nil {
		return 0, false, err
	}
	return domain.UserID(uid), true, nil
}

func (s *Store) JoinRoom(ctx context.Context, room domain.RoomID, sid domain.SessionID) (bool, error) {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: roomPK(room)},
			"SK":        &types.AttributeValueMemberS{Value: sessionSK(sid)},
			"sessionId": &types.AttributeValueMemberS{Value: string(sid)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil // already a member
		}
		return false, fmt.Errorf("put membership: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: sessionPK(sid)},
			"SK":     &types.AttributeValueMemberS{Value: roomSK(room)},
			"roomId": &types.AttributeValueMemberS{Value: string(room)},
		},
	}); err != nil {
		return false, fmt.Errorf("put membership reverse: %w", err)
	}
	return true, nil
}

func (s *Store) LeaveRoom(ctx context.Context, room domain.RoomID, sid domain.SessionID) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          key(roomPK(room), sessionSK(sid)),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("delete membership: %w", err)
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(sessionPK(sid), roomSK(room)),
	}); err != nil {
		return false, fmt.Errorf("delete membership reverse: %w", err)
	}
	return len(out.Attributes) > 0, nil
}

func (s *Store) RoomSessions(ctx context.Context, room domain.RoomID) ([]domain.SessionID, error) {
	items, err := s.queryPrefix(ctx, roomPK(room), "SESSION#")
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionID, 0, len(items))
	for _, item := range items {
		sid, err := strAttr(item, "sessionId")
		if err != nil {
			return nil, err
		}
		out = append(out, domain.SessionID(sid))
	}
	return out, nil
}

func (s *Store) RoomsOf(ctx context.Context, sid domain.SessionID) ([]domain.RoomID, error) {
	items, err := s.queryPrefix(ctx, sessionPK(sid), "ROOM#")
	if err != nil {
		return nil, err
	}
	out := make([]domain.RoomID, 0, len(items))
	for _, item := range items {
		room, err := strAttr(item, "roomId")
		if err != nil {
			return nil, err
		}
		out = append(out, domain.RoomID(room))
	}
	return out, nil
}

func (s *Store) IncrementParticipants(ctx context.Context, room domain.RoomID) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              key(roomPK(room), "METADATA"),
		UpdateExpression: aws.String("ADD participants :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment participants: %w", err)
	}
	return numAttr(out.Attributes, "participants")
}

func (s *Store) DecrementParticipants(ctx context.Context, room domain.RoomID) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 key(roomPK(room), "METADATA"),
		UpdateExpression:    aws.String("SET participants = participants - :one"),
		ConditionExpression: aws.String("participants >= :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			// Floor hit: a racing or duplicate decrement, counted as success.
			return 0, nil
		}
		return 0, fmt.Errorf("decrement participants: %w", err)
	}
	return numAttr(out.Attributes, "participants")
}

func (s *Store) AddPeer(ctx context.Context, call domain.CallID, uid domain.UserID, meta map[string]json.RawMessage) error {
	encoded := "{}"
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode peer metadata: %w", err)
		}
		encoded = string(b)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":       &types.AttributeValueMemberS{Value: callPK(call)},
			"SK":       &types.AttributeValueMemberS{Value: peerSK(uid)},
			"userId":   &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(uid), 10)},
			"metadata": &types.AttributeValueMemberS{Value: encoded},
		},
	}); err != nil {
		return fmt.Errorf("put peer: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: userPK(uid)},
			"SK":     &types.AttributeValueMemberS{Value: callSK(call)},
			"callId": &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(call), 10)},
		},
	}); err != nil {
		return fmt.Errorf("put peer reverse: %w", err)
	}
	return nil
}

func (s *Store) RemovePeer(ctx context.Context, call domain.CallID, uid domain.UserID) (int, error) {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(callPK(call), peerSK(uid)),
	}); err != nil {
		return 0, fmt.Errorf("delete peer: %w", err)
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(userPK(uid), callSK(call)),
	}); err != nil {
		return 0, fmt.Errorf("delete peer reverse: %w", err)
	}
	peers, err := s.Peers(ctx, call)
	if err != nil {
		return 0, err
	}
	if len(peers) == 0 {
		if err := s.DropCall(ctx, call); err != nil {
			return 0, err
		}
	}
	return len(peers), nil
}

func (s *Store) Peers(ctx context.Context, call domain.CallID) ([]store.PeerInfo, error) {
	items, err := s.queryPrefix(ctx, callPK(call), "PEER#")
	if err != nil {
		return nil, err
	}
	out := make([]store.PeerInfo, 0, len(items))
	for _, item := range items {
		uid, err := numAttr(item, "userId")
		if err != nil {
			return nil, err
		}
		info := store.PeerInfo{UserID: domain.UserID(uid)}
		if encoded, err := strAttr(item, "metadata"); err == nil && encoded != "" {
			if err := json.Unmarshal([]byte(encoded), &info.Metadata); err != nil {
				return nil, fmt.Errorf("decode peer metadata: %w", err)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *Store) CallsOf(ctx context.Context, uid domain.UserID) ([]domain.CallID, error) {
	items, err := s.queryPrefix(ctx, userPK(uid), "CALL#")
	if err != nil {
		return nil, err
	}
	out := make([]domain.CallID, 0, len(items))
	for _, item := range items {
		id, err := numAttr(item, "callId")
		if err != nil {
			return nil, err
		}
		out = append(out, domain.CallID(id))
	}
	return out, nil
}

func (s *Store) EnqueueCandidate(ctx context.Context, call domain.CallID, uid domain.UserID, payload json.RawMessage) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              key(callPK(call), iceSK(uid)),
		UpdateExpression: aws.String("SET candidates = list_append(if_not_exists(candidates, :empty), :c)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":c": &types.AttributeValueMemberL{Value: []types.AttributeValue{
				&types.AttributeValueMemberS{Value: string(payload)},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("enqueue candidate: %w", err)
	}
	return nil
}

func (s *Store) DrainCandidates(ctx context.Context, call domain.CallID, uid domain.UserID) ([]json.RawMessage, error) {
	// Delete-with-return makes the drain atomic: concurrent drains cannot
	// both observe the same queue.
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          key(callPK(call), iceSK(uid)),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("drain candidates: %w", err)
	}
	attr, ok := out.Attributes["candidates"]
	if !ok {
		return nil, nil
	}
	list, ok := attr.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.New("candidates attribute is not a list")
	}
	payloads := make([]json.RawMessage, 0, len(list.Value))
	for _, v := range list.Value {
		str, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return nil, errors.New("candidate entry is not a string")
		}
		payloads = append(payloads, json.RawMessage(str.Value))
	}
	return payloads, nil
}

func (s *Store) DropCall(ctx context.Context, call domain.CallID) error {
	items, err := s.queryPrefix(ctx, callPK(call), "")
	if err != nil {
		return err
	}
	for _, item := range items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return err
		}
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       key(callPK(call), sk),
		}); err != nil {
			return fmt.Errorf("drop call item: %w", err)
		}
		if strings.HasPrefix(sk, "PEER#") {
			uid, err := numAttr(item, "userId")
			if err != nil {
				return err
			}
			if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.table),
				Key:       key(userPK(domain.UserID(uid)), callSK(call)),
			}); err != nil {
				return fmt.Errorf("drop call reverse item: %w", err)
			}
		}
	}
	return nil
}

func (s *Store) queryPrefix(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if skPrefix != "" {
		in.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :sk)")
		in.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", pk, err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return items, nil
}

func isConditionFailed(err error) bool {
	var cond *types.ConditionalCheckFailedException
	return errors.As(err, &cond)
}

func strAttr(item map[string]types.AttributeValue, name string) (string, error) {
	attr, ok := item[name]
	if !ok {
		return "", fmt.Errorf("attribute %s missing", name)
	}
	str, ok := attr.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %s is not a string", name)
	}
	return str.Value, nil
}

func numAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	attr, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("attribute %s missing", name)
	}
	num, ok := attr.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s is not a number", name)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return n, nil
}

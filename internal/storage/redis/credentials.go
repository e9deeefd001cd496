package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcoot/logingate/internal/model"
)

// Credential operations

func (s *Storage) GetCredential(ctx context.Context, principal model.Principal) (*model.CredentialRecord, error) {
	data, err := s.client.Get(ctx, s.credentialKey(principal)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, model.ErrUnknownPrincipal
		}
		return nil, storeErr("get credential", principal, err)
	}

	var record model.CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		// Do not echo the payload, it contains the hash
		return nil, fmt.Errorf("decode credential record for %s: malformed payload", principal)
	}
	return &record, nil
}

func (s *Storage) CreateCredentialIfAbsent(ctx context.Context, record *model.CredentialRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	// SET NX is the create-if-absent primitive: two racing registrations
	// cannot both succeed
	created, err := s.client.SetNX(ctx, s.credentialKey(record.Principal), data, 0).Result()
	if err != nil {
		return storeErr("create credential", record.Principal, err)
	}
	if !created {
		return model.ErrAlreadyRegistered
	}
	return nil
}

func (s *Storage) UpdateCredential(ctx context.Context, record *model.CredentialRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	updated, err := s.client.SetXX(ctx, s.credentialKey(record.Principal), data, 0).Result()
	if err != nil {
		return storeErr("update credential", record.Principal, err)
	}
	if !updated {
		return model.ErrUnknownPrincipal
	}
	return nil
}

func (s *Storage) DeleteCredential(ctx context.Context, principal model.Principal) error {
	return storeErr("delete credential", principal, s.client.Del(ctx, s.credentialKey(principal)).Err())
}

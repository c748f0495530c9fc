package authcore

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// IssueAPIKey mints a key for identityID. Permissions must be a non-empty
// subset of APIKeys.Permissions. The full key is only ever returned here;
// the store keeps its SHA-256 and the characters shown in listings.
func (e *Engine) IssueAPIKey(ctx context.Context, identityID string, req APIKeyRequest) (*IssuedAPIKey, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: api key name is required", ErrInvalidInput)
	}
	mask, err := e.permissionMask(req.Permissions)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.Identities().GetByID(ctx, identityID); err != nil {
		return nil, mapStoreError(err)
	}

	id, err := e.apiKeyID()
	if err != nil {
		return nil, err
	}
	secret, err := e.generator.Token(e.config.APIKeys.SecretBytes)
	if err != nil {
		return nil, err
	}
	key := e.config.APIKeys.Prefix + secret
	prefix, suffix := e.maskEnds(key)
	now := e.now()

	record := &store.APIKey{
		ID:          id,
		IdentityID:  identityID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		KeyHash:     random.HashHex(key),
		KeyPrefix:   prefix,
		KeySuffix:   suffix,
		Permissions: mask.Raw(),
		CreatedAt:   now,
		Active:      true,
	}
	if err := e.store.APIKeys().Create(ctx, record); err != nil {
		return nil, mapStoreError(err)
	}

	e.metricInc(MetricAPIKeyIssued)
	e.emitAudit(ctx, auditEventAPIKeyIssued, true, identityID, "", nil, func() map[string]string {
		return map[string]string{"key_id": id}
	})
	return &IssuedAPIKey{
		ID:          id,
		Key:         key,
		Name:        record.Name,
		Description: record.Description,
		Permissions: e.permissions.Names(mask),
		CreatedAt:   now,
	}, nil
}

// ListAPIKeys returns the active keys of identityID, oldest first, with the
// key value masked.
func (e *Engine) ListAPIKeys(ctx context.Context, identityID string) ([]APIKeyInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	keys, err := e.store.APIKeys().ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	out := make([]APIKeyInfo, 0, len(keys))
	for _, k := range keys {
		if !k.Active {
			continue
		}
		out = append(out, e.apiKeyInfo(k))
	}
	return out, nil
}

// RevokeAPIKey deactivates a key of identityID. Keys of other identities
// read as [ErrNotFound]. Revoking a revoked key is a no-op.
func (e *Engine) RevokeAPIKey(ctx context.Context, identityID, keyID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	_, err := e.store.APIKeys().Update(ctx, keyID, func(k *store.APIKey) error {
		if k.IdentityID != identityID {
			return ErrNotFound
		}
		k.Active = false
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return mapStoreError(err)
	}
	e.metricInc(MetricAPIKeyRevoked)
	e.emitAudit(ctx, auditEventAPIKeyRevoked, true, identityID, "", nil, func() map[string]string {
		return map[string]string{"key_id": keyID}
	})
	return nil
}

// UpdateAPIKey renames, re-describes or re-scopes an active key of
// identityID. Replacement permissions are checked like at issue time.
func (e *Engine) UpdateAPIKey(ctx context.Context, identityID, keyID string, patch APIKeyPatch) (*APIKeyInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	var name string
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: api key name is required", ErrInvalidInput)
		}
	}
	var mask permission.Mask64
	if patch.Permissions != nil {
		m, err := e.permissionMask(patch.Permissions)
		if err != nil {
			return nil, err
		}
		mask = m
	}

	updated, err := e.store.APIKeys().Update(ctx, keyID, func(k *store.APIKey) error {
		if k.IdentityID != identityID || !k.Active {
			return ErrNotFound
		}
		if patch.Name != nil {
			k.Name = name
		}
		if patch.Description != nil {
			k.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Permissions != nil {
			k.Permissions = mask.Raw()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, mapStoreError(err)
	}

	e.emitAudit(ctx, auditEventAPIKeyUpdated, true, identityID, "", nil, func() map[string]string {
		return map[string]string{"key_id": keyID}
	})
	info := e.apiKeyInfo(updated)
	return &info, nil
}

// ValidateAPIKey authorizes a request made with key. It fails with
// [ErrInvalidKey] for unknown or revoked keys, [ErrInvalidOwner] when the
// owning identity is inactive, and [ErrMissingPermission] when any of
// required is not granted. Success records LastUsed.
func (e *Engine) ValidateAPIKey(ctx context.Context, key string, required ...string) (*APIKeyGrant, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	now := e.now()
	defer e.observe(MetricValidateLatency, now)

	grant, err := e.validateAPIKey(ctx, key, required, now)
	if err != nil {
		e.metricInc(MetricAPIKeyValidateFailure)
		e.emitAudit(ctx, auditEventAPIKeyRejected, false, "", "", err, nil)
		return nil, err
	}
	e.metricInc(MetricAPIKeyValidateSuccess)
	return grant, nil
}

func (e *Engine) validateAPIKey(ctx context.Context, key string, required []string, now time.Time) (*APIKeyGrant, error) {
	if len(key) != e.apiKeyLength() || !strings.HasPrefix(key, e.config.APIKeys.Prefix) {
		return nil, ErrInvalidKey
	}
	hash := random.HashHex(key)
	record, err := e.store.APIKeys().GetByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, backendError(err)
	}
	if subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 || !record.Active {
		return nil, ErrInvalidKey
	}

	owner, err := e.store.Identities().GetByID(ctx, record.IdentityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidOwner
	}
	if err != nil {
		return nil, backendError(err)
	}
	if !owner.Active {
		return nil, ErrInvalidOwner
	}

	mask := permission.Mask64(record.Permissions)
	if missing := e.permissions.Missing(mask, required); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingPermission, strings.Join(missing, ", "))
	}

	_, err = e.store.APIKeys().Update(ctx, record.ID, func(k *store.APIKey) error {
		used := now
		k.LastUsed = &used
		return nil
	})
	if err != nil {
		e.logger.Warn("api key last-used update failed", zap.String("key_id", record.ID), zap.Error(err))
	}

	return &APIKeyGrant{
		KeyID:       record.ID,
		IdentityID:  record.IdentityID,
		Permissions: e.permissions.Names(mask),
	}, nil
}

func (e *Engine) permissionMask(names []string) (permission.Mask64, error) {
	if len(names) == 0 {
		return 0, fmt.Errorf("%w: at least one permission is required", ErrInvalidInput)
	}
	mask, err := e.permissions.Mask(names)
	if err != nil {
		if errors.Is(err, permission.ErrUnknownPermission) {
			return 0, fmt.Errorf("%w: %v", ErrUnknownPermission, err)
		}
		return 0, err
	}
	return mask, nil
}

func (e *Engine) apiKeyID() (string, error) {
	if g, ok := e.generator.(sortableIDGenerator); ok {
		return g.SortableID()
	}
	return e.generator.NewID()
}

func (e *Engine) apiKeyLength() int {
	return len(e.config.APIKeys.Prefix) + base64.RawURLEncoding.EncodedLen(e.config.APIKeys.SecretBytes)
}

func (e *Engine) maskEnds(key string) (string, string) {
	p, s := e.config.APIKeys.MaskPrefix, e.config.APIKeys.MaskSuffix
	if p+s >= len(key) {
		return "", ""
	}
	return key[:p], key[len(key)-s:]
}

func (e *Engine) apiKeyInfo(k *store.APIKey) APIKeyInfo {
	hidden := e.apiKeyLength() - len(k.KeyPrefix) - len(k.KeySuffix)
	if hidden < 0 {
		hidden = 0
	}
	info := APIKeyInfo{
		ID:          k.ID,
		Name:        k.Name,
		Description: k.Description,
		MaskedKey:   k.KeyPrefix + strings.Repeat("*", hidden) + k.KeySuffix,
		Permissions: e.permissions.Names(permission.Mask64(k.Permissions)),
		CreatedAt:   k.CreatedAt,
	}
	if k.LastUsed != nil {
		t := *k.LastUsed
		info.LastUsed = &t
	}
	return info
}

package remote

import (
	"context"

	"github.com/scille/parsec-core/ids"
)

// HTTPRealmClient implements RealmClient over a Transport, one JSON POST per
// §6 command, matching apiclient.KopiaAPIClient's one-method-per-RPC shape.
type HTTPRealmClient struct {
	Transport *Transport
}

func NewHTTPRealmClient(t *Transport) *HTTPRealmClient {
	return &HTTPRealmClient{Transport: t}
}

func (c *HTTPRealmClient) VlobCreate(ctx context.Context, req VlobCreateRequest) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}

	if err := c.Transport.Post(ctx, "/vlob_create", req, &resp); err != nil {
		return "", err
	}

	return resp.Status, nil
}

func (c *HTTPRealmClient) VlobUpdate(ctx context.Context, req VlobUpdateRequest) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}

	if err := c.Transport.Post(ctx, "/vlob_update", req, &resp); err != nil {
		return "", err
	}

	return resp.Status, nil
}

func (c *HTTPRealmClient) VlobRead(ctx context.Context, req VlobReadRequest) (VlobReadResponse, error) {
	var resp VlobReadResponse
	if err := c.Transport.Post(ctx, "/vlob_read", req, &resp); err != nil {
		return VlobReadResponse{}, err
	}

	return resp, nil
}

func (c *HTTPRealmClient) VlobPollChanges(ctx context.Context, req VlobPollChangesRequest) (VlobPollChangesResponse, error) {
	var resp VlobPollChangesResponse
	if err := c.Transport.Post(ctx, "/vlob_poll_changes", req, &resp); err != nil {
		return VlobPollChangesResponse{}, err
	}

	return resp, nil
}

func (c *HTTPRealmClient) BlockCreate(ctx context.Context, req BlockCreateRequest) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}

	if err := c.Transport.Post(ctx, "/block_create", req, &resp); err != nil {
		return "", err
	}

	return resp.Status, nil
}

func (c *HTTPRealmClient) BlockRead(ctx context.Context, blockID ids.BlockID) (BlockReadResponse, error) {
	req := struct {
		BlockID ids.BlockID `json:"block_id"`
	}{BlockID: blockID}

	var resp BlockReadResponse
	if err := c.Transport.Post(ctx, "/block_read", req, &resp); err != nil {
		return BlockReadResponse{}, err
	}

	return resp, nil
}

func (c *HTTPRealmClient) RealmCreate(ctx context.Context, req RealmCreateRequest) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}

	if err := c.Transport.Post(ctx, "/realm_create", req, &resp); err != nil {
		return "", err
	}

	return resp.Status, nil
}

func (c *HTTPRealmClient) RealmUpdateRoles(ctx context.Context, req RoleCertificateRequest) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}

	if err := c.Transport.Post(ctx, "/realm_update_roles", req, &resp); err != nil {
		return "", err
	}

	return resp.Status, nil
}

func (c *HTTPRealmClient) RealmGetRoleCertificates(ctx context.Context, realmID ids.RealmID) (RoleCertificatesResponse, error) {
	req := struct {
		RealmID ids.RealmID `json:"realm_id"`
	}{RealmID: realmID}

	var resp RoleCertificatesResponse
	if err := c.Transport.Post(ctx, "/realm_get_role_certificates", req, &resp); err != nil {
		return RoleCertificatesResponse{}, err
	}

	return resp, nil
}

func (c *HTTPRealmClient) StartReencryptionMaintenance(ctx context.Context, req MaintenanceBoundaryRequest) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}

	if err := c.Transport.Post(ctx, "/realm_start_reencryption_maintenance", req, &resp); err != nil {
		return "", err
	}

	return resp.Status, nil
}

func (c *HTTPRealmClient) FinishReencryptionMaintenance(ctx context.Context, req MaintenanceBoundaryRequest) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}

	if err := c.Transport.Post(ctx, "/realm_finish_reencryption_maintenance", req, &resp); err != nil {
		return "", err
	}

	return resp.Status, nil
}

func (c *HTTPRealmClient) GetReencryptionBatch(ctx context.Context, req ReencryptionBatchGetRequest) (ReencryptionBatchGetResponse, error) {
	var resp ReencryptionBatchGetResponse
	if err := c.Transport.Post(ctx, "/vlob_maintenance_get_reencryption_batch", req, &resp); err != nil {
		return ReencryptionBatchGetResponse{}, err
	}

	return resp, nil
}

func (c *HTTPRealmClient) SaveReencryptionBatch(ctx context.Context, req ReencryptionBatchSaveRequest) (ReencryptionBatchSaveResponse, error) {
	var resp ReencryptionBatchSaveResponse
	if err := c.Transport.Post(ctx, "/vlob_maintenance_save_reencryption_batch", req, &resp); err != nil {
		return ReencryptionBatchSaveResponse{}, err
	}

	return resp, nil
}

func (c *HTTPRealmClient) MessageGet(ctx context.Context, req MessageGetRequest) (MessageGetResponse, error) {
	var resp MessageGetResponse
	if err := c.Transport.Post(ctx, "/message_get", req, &resp); err != nil {
		return MessageGetResponse{}, err
	}

	return resp, nil
}

func (c *HTTPRealmClient) MessageSend(ctx context.Context, req MessageSendRequest) error {
	return c.Transport.Post(ctx, "/message_send", req, nil)
}

// Package sdk is a Go client for the stackform HTTP API.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yaroslav/stackform/models"
)

// Client talks to one or more stackform servers sharing a database.
type Client struct {
	// BaseURLs is the list of server URLs, tried in order.
	BaseURLs []string

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient is the HTTP client used for requests.
	HTTPClient *http.Client

	// RetryAttempts is the number of times to retry failed requests.
	RetryAttempts int

	// RetryWaitMin is the minimum wait time between retries.
	RetryWaitMin time.Duration

	// RetryWaitMax is the maximum wait time between retries.
	RetryWaitMax time.Duration
}

// NewClient creates a new SDK client with the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		BaseURLs:      config.BaseURLs,
		UserAgent:     config.UserAgent,
		HTTPClient:    config.HTTPClient,
		RetryAttempts: config.RetryAttempts,
		RetryWaitMin:  config.RetryWaitMin,
		RetryWaitMax:  config.RetryWaitMax,
	}, nil
}

// doRequest sends the request to each base URL until one answers.
// Only transport failures move on to the next URL; any HTTP response is final.
func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	if len(c.BaseURLs) == 0 {
		return nil, ErrNoBaseURLs
	}

	var lastErr error
	for _, baseURL := range c.BaseURLs {
		resp, err := c.doRequestWithRetry(ctx, method, baseURL+path, contentType, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrAllInstancesFailed, lastErr)
}

// parseErrorResponse turns a non-2xx response into an *APIError.
func parseErrorResponse(resp *http.Response) error {
	defer drainAndCloseBody(resp)

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
		apiErr.RequestID = body.RequestID
	}
	return apiErr
}

// doJSONRequest sends reqBody as JSON and decodes the data field of the
// response envelope into respData when it is not nil.
func (c *Client) doJSONRequest(ctx context.Context, method, path string, reqBody, respData any) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	resp, err := c.doRequest(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, respData)
}

func decodeEnvelope(resp *http.Response, respData any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(resp)
	}
	defer drainAndCloseBody(resp)

	if respData == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope{Data: respData}); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

func objectPath(ref models.Ref) string {
	return fmt.Sprintf("/api/v1/objects/%s/%s", url.PathEscape(string(ref.Kind)), url.PathEscape(ref.ID))
}

// ============================================================================
// Health
// ============================================================================

// Ready calls the readiness probe. A server whose database is unreachable
// answers with an *APIError wrapping ErrServerError.
func (c *Client) Ready(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSONRequest(ctx, http.MethodGet, "/health/ready", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ============================================================================
// Bundles
// ============================================================================

// UploadBundle loads a gzip-compressed bundle archive.
// Loading the same name, version and edition twice returns ErrConflict.
func (c *Client) UploadBundle(ctx context.Context, archive []byte) (*models.Bundle, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/bundles", "application/gzip", archive)
	if err != nil {
		return nil, err
	}
	var b models.Bundle
	if err := decodeEnvelope(resp, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBundles lists loaded bundles, optionally filtered by name.
func (c *Client) ListBundles(ctx context.Context, name string) ([]*models.Bundle, error) {
	path := "/api/v1/bundles"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}
	var bundles []*models.Bundle
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &bundles); err != nil {
		return nil, err
	}
	return bundles, nil
}

// GetBundle returns a bundle by id.
func (c *Client) GetBundle(ctx context.Context, id string) (*models.Bundle, error) {
	var b models.Bundle
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/v1/bundles/"+url.PathEscape(id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Prototypes lists the prototypes of a bundle, optionally of one type.
func (c *Client) Prototypes(ctx context.Context, bundleID string, typ models.PrototypeType) ([]*models.Prototype, error) {
	path := "/api/v1/bundles/" + url.PathEscape(bundleID) + "/prototypes"
	if typ != "" {
		path += "?type=" + url.QueryEscape(string(typ))
	}
	var protos []*models.Prototype
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &protos); err != nil {
		return nil, err
	}
	return protos, nil
}

// BundleUpgrades lists the upgrades a bundle declares.
func (c *Client) BundleUpgrades(ctx context.Context, bundleID string) ([]*models.Upgrade, error) {
	var upgrades []*models.Upgrade
	path := "/api/v1/bundles/" + url.PathEscape(bundleID) + "/upgrades"
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &upgrades); err != nil {
		return nil, err
	}
	return upgrades, nil
}

// DownloadBundle returns the stored archive of a bundle and its version.
func (c *Client) DownloadBundle(ctx context.Context, id string) ([]byte, string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/bundles/"+url.PathEscape(id)+"/archive", "", nil)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", parseErrorResponse(resp)
	}
	defer drainAndCloseBody(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read bundle archive: %w", err)
	}
	return data, resp.Header.Get("X-Bundle-Version"), nil
}

// DeleteBundle removes a bundle no object uses.
func (c *Client) DeleteBundle(ctx context.Context, id string) error {
	return c.doJSONRequest(ctx, http.MethodDelete, "/api/v1/bundles/"+url.PathEscape(id), nil, nil)
}

// ============================================================================
// Clusters
// ============================================================================

// CreateCluster creates a cluster from a bundle.
func (c *Client) CreateCluster(ctx context.Context, bundleID, name string) (*models.Entity, error) {
	req := map[string]string{"bundle_id": bundleID, "name": name}
	var e models.Entity
	if err := c.doJSONRequest(ctx, http.MethodPost, "/api/v1/clusters", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListObjects lists all objects of a kind.
func (c *Client) ListObjects(ctx context.Context, kind models.Kind) ([]*models.Entity, error) {
	var entities []*models.Entity
	path := "/api/v1/objects/" + url.PathEscape(string(kind))
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// DeleteCluster deletes a cluster and everything below it.
func (c *Client) DeleteCluster(ctx context.Context, id string) error {
	return c.doJSONRequest(ctx, http.MethodDelete, "/api/v1/clusters/"+url.PathEscape(id), nil, nil)
}

// AddService adds a service to a cluster. Missing requirements return ErrConflict.
func (c *Client) AddService(ctx context.Context, clusterID, prototypeID string) (*models.Entity, error) {
	req := map[string]string{"prototype_id": prototypeID}
	var e models.Entity
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/services"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Services lists the services of a cluster.
func (c *Client) Services(ctx context.Context, clusterID string) ([]*models.Entity, error) {
	var services []*models.Entity
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/services"
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// DeleteService removes a service no other service requires.
func (c *Client) DeleteService(ctx context.Context, id string) error {
	return c.doJSONRequest(ctx, http.MethodDelete, "/api/v1/services/"+url.PathEscape(id), nil, nil)
}

// AddComponent adds a component to a service.
func (c *Client) AddComponent(ctx context.Context, serviceID, prototypeID string) (*models.Entity, error) {
	req := map[string]string{"prototype_id": prototypeID}
	var e models.Entity
	path := "/api/v1/services/" + url.PathEscape(serviceID) + "/components"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Components lists the components of a service.
func (c *Client) Components(ctx context.Context, serviceID string) ([]*models.Entity, error) {
	var components []*models.Entity
	path := "/api/v1/services/" + url.PathEscape(serviceID) + "/components"
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &components); err != nil {
		return nil, err
	}
	return components, nil
}

// HostComponents returns the deployment map of a cluster.
func (c *Client) HostComponents(ctx context.Context, clusterID string) ([]*models.HostComponent, error) {
	var hcs []*models.HostComponent
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/hostcomponent"
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &hcs); err != nil {
		return nil, err
	}
	return hcs, nil
}

// SetHostComponents replaces the deployment map of a cluster.
func (c *Client) SetHostComponents(ctx context.Context, clusterID string, rows []HostComponentRow) ([]*models.HostComponent, error) {
	if rows == nil {
		rows = []HostComponentRow{}
	}
	req := map[string]any{"hc": rows}
	var hcs []*models.HostComponent
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/hostcomponent"
	if err := c.doJSONRequest(ctx, http.MethodPut, path, req, &hcs); err != nil {
		return nil, err
	}
	return hcs, nil
}

// AddHost attaches a host to a cluster.
func (c *Client) AddHost(ctx context.Context, clusterID, hostID string) (*models.Entity, error) {
	req := map[string]string{"host_id": hostID}
	var e models.Entity
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/hosts"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// RemoveHost detaches a host that carries no components from its cluster.
func (c *Client) RemoveHost(ctx context.Context, clusterID, hostID string) error {
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/hosts/" + url.PathEscape(hostID)
	return c.doJSONRequest(ctx, http.MethodDelete, path, nil, nil)
}

// Binds lists the imports of a cluster.
func (c *Client) Binds(ctx context.Context, clusterID string) ([]*models.ClusterBind, error) {
	var binds []*models.ClusterBind
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/binds"
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &binds); err != nil {
		return nil, err
	}
	return binds, nil
}

// CreateBind binds an import of a cluster or one of its services.
func (c *Client) CreateBind(ctx context.Context, clusterID string, bind Bind) (*models.ClusterBind, error) {
	var created models.ClusterBind
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/binds"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, bind, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteBind removes an import binding.
func (c *Client) DeleteBind(ctx context.Context, clusterID, bindID string) error {
	path := "/api/v1/clusters/" + url.PathEscape(clusterID) + "/binds/" + url.PathEscape(bindID)
	return c.doJSONRequest(ctx, http.MethodDelete, path, nil, nil)
}

// ============================================================================
// Providers and hosts
// ============================================================================

// CreateProvider creates a host provider from a bundle.
func (c *Client) CreateProvider(ctx context.Context, bundleID, name string) (*models.Entity, error) {
	req := map[string]string{"bundle_id": bundleID, "name": name}
	var e models.Entity
	if err := c.doJSONRequest(ctx, http.MethodPost, "/api/v1/providers", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteProvider deletes a provider that owns no hosts.
func (c *Client) DeleteProvider(ctx context.Context, id string) error {
	return c.doJSONRequest(ctx, http.MethodDelete, "/api/v1/providers/"+url.PathEscape(id), nil, nil)
}

// CreateHost creates a host under a provider.
func (c *Client) CreateHost(ctx context.Context, providerID, prototypeID, name string) (*models.Entity, error) {
	req := map[string]string{"prototype_id": prototypeID, "name": name}
	var e models.Entity
	path := "/api/v1/providers/" + url.PathEscape(providerID) + "/hosts"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Hosts lists the hosts of a provider.
func (c *Client) Hosts(ctx context.Context, providerID string) ([]*models.Entity, error) {
	var hosts []*models.Entity
	path := "/api/v1/providers/" + url.PathEscape(providerID) + "/hosts"
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// DeleteHost deletes a host that is not in a cluster.
func (c *Client) DeleteHost(ctx context.Context, id string) error {
	return c.doJSONRequest(ctx, http.MethodDelete, "/api/v1/hosts/"+url.PathEscape(id), nil, nil)
}

// SetMaintenanceMode switches the maintenance mode of a host.
func (c *Client) SetMaintenanceMode(ctx context.Context, hostID string, mode models.MaintenanceMode) (*models.Entity, error) {
	req := map[string]string{"maintenance_mode": string(mode)}
	var e models.Entity
	path := "/api/v1/hosts/" + url.PathEscape(hostID) + "/maintenance-mode"
	if err := c.doJSONRequest(ctx, http.MethodPut, path, req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ============================================================================
// Objects
// ============================================================================

// GetObject returns any object by reference.
func (c *Client) GetObject(ctx context.Context, ref models.Ref) (*models.Entity, error) {
	var e models.Entity
	if err := c.doJSONRequest(ctx, http.MethodGet, objectPath(ref), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Config returns the current configuration of an object.
func (c *Client) Config(ctx context.Context, ref models.Ref) (*models.ConfigLog, error) {
	var cl models.ConfigLog
	if err := c.doJSONRequest(ctx, http.MethodGet, objectPath(ref)+"/config", nil, &cl); err != nil {
		return nil, err
	}
	return &cl, nil
}

// UpdateConfig saves a new configuration for an object.
func (c *Client) UpdateConfig(ctx context.Context, ref models.Ref, config, attr map[string]any) (*models.ConfigLog, error) {
	req := map[string]any{"config": config, "attr": attr}
	var cl models.ConfigLog
	if err := c.doJSONRequest(ctx, http.MethodPost, objectPath(ref)+"/config", req, &cl); err != nil {
		return nil, err
	}
	return &cl, nil
}

// SetState sets the lifecycle state of an object.
func (c *Client) SetState(ctx context.Context, ref models.Ref, state string) (*models.Entity, error) {
	req := map[string]string{"state": state}
	var e models.Entity
	if err := c.doJSONRequest(ctx, http.MethodPut, objectPath(ref)+"/state", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Affected returns the objects whose concerns an event on ref touches.
// With all set, the whole hierarchy of the object is returned.
func (c *Client) Affected(ctx context.Context, ref models.Ref, all bool) ([]models.Ref, error) {
	var refs []models.Ref
	path := objectPath(ref) + "/affected?all=" + strconv.FormatBool(all)
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// Concerns returns the concerns affecting an object and whether it is locked.
func (c *Client) Concerns(ctx context.Context, ref models.Ref) (*Concerns, error) {
	var cs Concerns
	if err := c.doJSONRequest(ctx, http.MethodGet, objectPath(ref)+"/concerns", nil, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// ============================================================================
// Upgrades
// ============================================================================

// ListUpgrades lists the upgrades whose version and edition accept the object.
func (c *Client) ListUpgrades(ctx context.Context, ref models.Ref) ([]*AvailableUpgrade, error) {
	var upgrades []*AvailableUpgrade
	if err := c.doJSONRequest(ctx, http.MethodGet, objectPath(ref)+"/upgrades", nil, &upgrades); err != nil {
		return nil, err
	}
	return upgrades, nil
}

// CheckUpgrade runs the upgrade pre-checks without changing anything.
// A rejected upgrade is reported in the result, not as an error.
func (c *Client) CheckUpgrade(ctx context.Context, ref models.Ref, upgradeID string) (*CheckResult, error) {
	var res CheckResult
	path := objectPath(ref) + "/upgrades/" + url.PathEscape(upgradeID) + "/check"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Upgrade runs an upgrade. A rejected upgrade returns an *APIError with
// code "upgrade_rejected"; an action upgrade returns with a TaskID set.
func (c *Client) Upgrade(ctx context.Context, ref models.Ref, upgradeID string, opts *UpgradeOptions) (*UpgradeResult, error) {
	var body any
	if opts != nil {
		body = opts
	}
	var res UpgradeResult
	path := objectPath(ref) + "/upgrades/" + url.PathEscape(upgradeID) + "/do"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Revert restores an object to its state before the last upgrade.
func (c *Client) Revert(ctx context.Context, ref models.Ref) (*UpgradeResult, error) {
	var res UpgradeResult
	if err := c.doJSONRequest(ctx, http.MethodPost, objectPath(ref)+"/revert", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ============================================================================
// Tasks
// ============================================================================

// GetTask returns a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Tasks lists the tasks of an object.
func (c *Client) Tasks(ctx context.Context, ref models.Ref) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := c.doJSONRequest(ctx, http.MethodGet, objectPath(ref)+"/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// FinishTask reports the outcome of a task on behalf of the job runner.
func (c *Client) FinishTask(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	if !status.Finished() {
		return nil, fmt.Errorf("%w: task status %q is not terminal", ErrBadRequest, status)
	}
	req := map[string]string{"status": string(status)}
	var task models.Task
	path := "/api/v1/tasks/" + url.PathEscape(id) + "/finish"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ApplySwitch performs the prototype switch of an action upgrade from inside
// its running task.
func (c *Client) ApplySwitch(ctx context.Context, taskID string) (*UpgradeResult, error) {
	var res UpgradeResult
	path := "/api/v1/tasks/" + url.PathEscape(taskID) + "/apply-switch"
	if err := c.doJSONRequest(ctx, http.MethodPost, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// IsRejected reports whether err is an upgrade rejection from the server.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "upgrade_rejected"
}

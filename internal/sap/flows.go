package sap

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
)

// Flow is an integration design-time artifact inside a package.
type Flow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	PackageID   string `json:"packageId"`
}

// FlowConfiguration is one externalized parameter of a flow.
type FlowConfiguration struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

type flowsResponse struct {
	D struct {
		Results []flowEntry `json:"results"`
	} `json:"d"`
}

type flowEntry struct {
	ID          string `json:"Id"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Version     string `json:"Version"`
	PackageID   string `json:"PackageId"`
}

type configurationsResponse struct {
	D struct {
		Results []configurationEntry `json:"results"`
	} `json:"d"`
}

type configurationEntry struct {
	ParameterKey   string `json:"ParameterKey"`
	ParameterValue string `json:"ParameterValue"`
	DataType       string `json:"DataType"`
}

// FetchFlows lists the artifacts of the given packages, fetching the
// packages concurrently with a bounded number of tenant calls in flight.
// Results keep the order of packageIDs.
func (c *Client) FetchFlows(ctx context.Context, packageIDs []string) ([]Flow, error) {
	g, ctx := errgroup.WithContext(ctx)
	limit := c.cfg.FlowConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	results := make([][]Flow, len(packageIDs))
	for i, id := range packageIDs {
		i, id := i, id
		g.Go(func() error {
			flows, err := c.fetchPackageFlows(ctx, id)
			if err != nil {
				return fmt.Errorf("package %s: %w", id, err)
			}
			results[i] = flows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Flow
	for _, flows := range results {
		all = append(all, flows...)
	}
	return all, nil
}

func (c *Client) fetchPackageFlows(ctx context.Context, packageID string) ([]Flow, error) {
	// Deduplicate concurrent requests for the same package
	key := "flows:" + packageID
	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.fetchPackageFlowsInternal(ctx, packageID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Flow), nil
}

func (c *Client) fetchPackageFlowsInternal(ctx context.Context, packageID string) ([]Flow, error) {
	path := "/IntegrationPackages(" + odataKey(packageID) + ")/IntegrationDesigntimeArtifacts"
	body, err := c.getJSON(ctx, c.apiURL(path))
	if err != nil {
		return nil, err
	}

	var response flowsResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse artifact list: %w", err)
	}

	flows := make([]Flow, 0, len(response.D.Results))
	for _, f := range response.D.Results {
		packageRef := f.PackageID
		if packageRef == "" {
			packageRef = packageID
		}
		flows = append(flows, Flow{
			ID:          f.ID,
			Name:        f.Name,
			Description: f.Description,
			Version:     f.Version,
			PackageID:   packageRef,
		})
	}
	return flows, nil
}

// FetchFlowConfigurations reads the externalized parameters of one flow
// version. An empty version means the active one.
func (c *Client) FetchFlowConfigurations(ctx context.Context, flowID, version string) ([]FlowConfiguration, error) {
	if version == "" {
		version = "active"
	}
	path := "/IntegrationDesigntimeArtifacts(Id=" + odataKey(flowID) + ",Version=" + odataKey(version) + ")/Configurations"
	body, err := c.getJSON(ctx, c.apiURL(path))
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", flowID, err)
	}

	var response configurationsResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse configurations: %w", err)
	}

	configs := make([]FlowConfiguration, 0, len(response.D.Results))
	for _, entry := range response.D.Results {
		configs = append(configs, FlowConfiguration{
			Key:   entry.ParameterKey,
			Value: entry.ParameterValue,
			Type:  entry.DataType,
		})
	}
	return configs, nil
}

// DeployFlow asks the tenant to deploy one flow version and returns the
// deployment task ID.
func (c *Client) DeployFlow(ctx context.Context, flowID, version string) (string, error) {
	if version == "" {
		version = "active"
	}
	endpoint := c.apiURL("/DeployIntegrationDesigntimeArtifact") +
		"?Id=" + url.QueryEscape(odataKey(flowID)) +
		"&Version=" + url.QueryEscape(odataKey(version))

	body, err := c.doJSON(ctx, "POST", endpoint)
	if err != nil {
		return "", fmt.Errorf("deploy %s: %w", flowID, err)
	}
	return strings.TrimSpace(string(body)), nil
}

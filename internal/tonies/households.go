package tonies

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// ListHouseholds returns every household acct belongs to. An empty list is
// not an error.
func (c *Client) ListHouseholds(ctx context.Context, acct Account) ([]Household, error) {
	var resp []householdResponse
	if err := c.getJSON(ctx, acct, "/households", &resp); err != nil {
		return nil, err
	}

	households := make([]Household, 0, len(resp))
	for i := range resp {
		households = append(households, resp[i].toHousehold())
	}

	c.logger.Debug("listed households", slog.Int("count", len(households)))

	return households, nil
}

// ListDevices returns the Creative Tonies of one household.
func (c *Client) ListDevices(ctx context.Context, acct Account, householdID string) ([]Device, error) {
	if householdID == "" {
		return nil, apperr.Invalid("tonies: household id is required")
	}

	var resp []deviceResponse
	if err := c.getJSON(ctx, acct, devicesPath(householdID), &resp); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(resp))
	for i := range resp {
		devices = append(devices, resp[i].toDevice(householdID))
	}

	c.logger.Debug("listed devices",
		slog.String("household_id", householdID),
		slog.Int("count", len(devices)),
	)

	return devices, nil
}

func devicesPath(householdID string) string {
	return "/households/" + url.PathEscape(householdID) + "/creativetonies"
}

func devicePath(householdID, deviceID string) string {
	return devicesPath(householdID) + "/" + url.PathEscape(deviceID)
}

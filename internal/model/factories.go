package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// fakePhone returns a cleaned 10-digit number that never starts with 0 or 1.
func fakePhone() string {
	return gofakeit.Numerify("2#########")
}

// NewCompany creates a Company with default fake data for tests.
func NewCompany() *Company {
	return &Company{
		ID:            int64(gofakeit.Number(1, 1_000_000)),
		Name:          gofakeit.Company(),
		Timezone:      "US/Mountain",
		ThresholdDays: 30,
	}
}

// NewMarket creates a Market owned by the given company.
func NewMarket(companyID int64) *Market {
	return &Market{
		ID:        int64(gofakeit.Number(1, 1_000_000)),
		CompanyID: companyID,
		Name:      gofakeit.City(),
	}
}

// NewPhoneNumber creates an active PhoneNumber in the given company/market.
func NewPhoneNumber(companyID, marketID int64) *PhoneNumber {
	return &PhoneNumber{
		ID:        int64(gofakeit.Number(1, 1_000_000)),
		CompanyID: companyID,
		MarketID:  marketID,
		Phone:     fakePhone(),
		Provider:  ProviderTelnyx,
		Status:    PhoneStatusActive,
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
	}
}

// NewProspect creates a Prospect with default fake data.
func NewProspect(companyID int64) *Prospect {
	return &Prospect{
		ID:        int64(gofakeit.Number(1, 1_000_000)),
		CompanyID: companyID,
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		PhoneRaw:  fakePhone(),
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
	}
}

// NewCampaign creates a Campaign with skip-responded enabled.
func NewCampaign(companyID, marketID int64) *Campaign {
	return &Campaign{
		ID:            int64(gofakeit.Number(1, 1_000_000)),
		CompanyID:     companyID,
		MarketID:      marketID,
		Name:          gofakeit.BuzzWord(),
		SkipResponded: true,
	}
}

// NewStatsBatch creates an empty StatsBatch for the given campaign/market.
func NewStatsBatch(campaignID, marketID int64) *StatsBatch {
	return &StatsBatch{
		ID:         int64(gofakeit.Number(1, 1_000_000)),
		CampaignID: &campaignID,
		MarketID:   &marketID,
		Provider:   ProviderTelnyx,
	}
}

// NewCampaignProspect joins the given prospect and campaign.
func NewCampaignProspect(campaignID, prospectID int64, batchID *int64) *CampaignProspect {
	return &CampaignProspect{
		ID:           int64(gofakeit.Number(1, 1_000_000)),
		CampaignID:   campaignID,
		ProspectID:   prospectID,
		StatsBatchID: batchID,
	}
}

// NewAgentProfile creates an AgentProfile with a fake personal phone.
func NewAgentProfile(companyID int64) *AgentProfile {
	return &AgentProfile{
		ID:        int64(gofakeit.Number(1, 1_000_000)),
		CompanyID: companyID,
		Name:      gofakeit.Name(),
		Phone:     fakePhone(),
	}
}

// NewRelayNumber creates an active RelayNumber.
func NewRelayNumber() *RelayNumber {
	return &RelayNumber{
		ID:       int64(gofakeit.Number(1, 1_000_000)),
		Phone:    fakePhone(),
		Status:   RelayStatusActive,
		Provider: ProviderTelnyx,
	}
}

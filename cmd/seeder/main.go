//cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// demoProspects are approved and ready to enqueue. The recipient values mix a
// provider id with profile URLs so both resolution paths get exercised.
var demoProspects = []model.Prospect{
	{FirstName: "Ada", LastName: "Lovelace", CompanyName: "Analytical Engines", Title: "Founder", RecipientID: "https://www.linkedin.com/in/ada-lovelace/"},
	{FirstName: "Grace", LastName: "Hopper", CompanyName: "COBOL Labs", Title: "CTO", RecipientID: "https://linkedin.com/in/grace-hopper"},
	{FirstName: "Alan", LastName: "Turing", CompanyName: "Bletchley", Title: "Head of Research", RecipientID: "ACoAAB1234567890"},
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	providerAccount := flag.String("provider-account", "demo-account", "provider account id of the sending identity")
	enqueue := flag.Bool("enqueue", true, "enqueue the seeded campaign")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	a, err := app.New(cfg, lg)
	if err != nil {
		lg.Fatal("init app", zap.Error(err))
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	account := &model.Account{WorkspaceID: 1, ProviderAccountID: *providerAccount, DisplayName: "Demo sender", AccountType: model.AccountTypeLinkedIn}
	if err := (&repository.AccountRepository{DB: a.DB}).Create(ctx, account); err != nil {
		lg.Fatal("seed account", zap.Error(err))
	}

	campaign, err := a.Campaigns.CreateCampaign(ctx, &model.Campaign{
		WorkspaceID:        1,
		AccountID:          account.ID,
		Name:               "Demo connector",
		CampaignType:       model.CampaignTypeConnector,
		CountryCode:        "US",
		Timezone:           "America/New_York",
		WorkingHoursStart:  9,
		WorkingHoursEnd:    17,
		SkipWeekends:       true,
		SkipHolidays:       true,
		ConnectionTemplate: "Hi {first_name}, I enjoyed reading about {company_name}. Would be great to connect!",
		FollowUpTemplates: []string{
			"Thanks for connecting, {first_name}! How is life as {title}?",
			"{first_name}, happy to share how teams like {company} handle outreach.",
		},
	})
	if err != nil {
		lg.Fatal("seed campaign", zap.Error(err))
	}

	prospects := &repository.ProspectRepository{DB: a.DB}
	for i := range demoProspects {
		p := demoProspects[i]
		p.CampaignID = campaign.ID
		p.Status = model.ProspectStatusApproved
		if err := prospects.Create(ctx, &p); err != nil {
			lg.Fatal("seed prospect", zap.String("name", p.FullName()), zap.Error(err))
		}
	}
	fmt.Printf("Seeded account %d, campaign %d, %d prospects\n", account.ID, campaign.ID, len(demoProspects))

	if !*enqueue {
		return
	}
	res, err := a.Campaigns.EnqueueCampaign(ctx, campaign.ID)
	if err != nil {
		lg.Fatal("enqueue campaign", zap.Error(err))
	}
	fmt.Printf("Enqueued %d items for %d prospects\n", res.ItemsCreated, res.ProspectsQueued)
}

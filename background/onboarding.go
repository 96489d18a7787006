package background

import (
	"context"

	"go.uber.org/zap"

	"webability/analytics/widget"
)

// Compliance statuses derived from the widget check.
const (
	StatusCompliant    = "Compliant"
	StatusNotCompliant = "Not Compliant"
)

// OnboardingReport is the outcome of checking a newly added site.
type OnboardingReport struct {
	SiteID       int64
	Domain       string
	WidgetStatus string
	Status       string
}

// WidgetChecker is satisfied by *widget.Checker.
type WidgetChecker interface {
	Check(ctx context.Context, domain string) string
}

// ReportNotifier delivers an onboarding report, e.g. as an email with the
// accessibility report attached.
type ReportNotifier interface {
	Notify(ctx context.Context, report OnboardingReport) error
}

// LogNotifier writes the report to the logger.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, report OnboardingReport) error {
	n.Log.Info("Site onboarding report",
		zap.Int64("site_id", report.SiteID),
		zap.String("domain", report.Domain),
		zap.String("widget_status", report.WidgetStatus),
		zap.String("status", report.Status),
	)
	return nil
}

// Onboarder runs the post-add checks for a site in the background.
type Onboarder struct {
	runner   *Runner
	checker  WidgetChecker
	notifier ReportNotifier
}

func NewOnboarder(runner *Runner, checker WidgetChecker, notifier ReportNotifier) *Onboarder {
	return &Onboarder{runner: runner, checker: checker, notifier: notifier}
}

// Onboard schedules the widget check and report for the site. It returns
// false when the task could not be queued.
func (o *Onboarder) Onboard(siteID int64, domain string) bool {
	return o.runner.Submit("site_onboarding", func(ctx context.Context) error {
		widgetStatus := o.checker.Check(ctx, domain)
		return o.notifier.Notify(ctx, OnboardingReport{
			SiteID:       siteID,
			Domain:       domain,
			WidgetStatus: widgetStatus,
			Status:       complianceStatus(widgetStatus),
		})
	})
}

func complianceStatus(widgetStatus string) string {
	if widgetStatus == widget.StatusWebAbility || widgetStatus == widget.StatusPresent {
		return StatusCompliant
	}
	return StatusNotCompliant
}

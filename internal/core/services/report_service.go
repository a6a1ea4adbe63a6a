package services

import (
	"context"
	"strings"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/ports"
	"chatty/pkg/validation"
)

type reportService struct {
	reports    ports.ReportRepository
	groups     ports.GroupRepository
	users      ports.UserRepository
	newID      idSource
	now        clock
	maxTextLen int
}

func NewReportService(
	reports ports.ReportRepository,
	groups ports.GroupRepository,
	users ports.UserRepository,
	maxTextLen int,
) ports.ReportService {
	return &reportService{
		reports:    reports,
		groups:     groups,
		users:      users,
		newID:      newUUID,
		now:        time.Now,
		maxTextLen: maxTextLen,
	}
}

// CreateReport files a report about a group member. Only group managers may
// report; ReportedBy is always the actor.
func (s *reportService) CreateReport(ctx context.Context, actor string, report domain.Report) (*domain.Report, error) {
	user, err := resolveUser(ctx, s.users, actor)
	if err != nil {
		return nil, err
	}
	group, err := s.groups.Get(ctx, report.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.CanManage(user) {
		return nil, domain.ErrUnauthorized
	}

	report.Text = strings.TrimSpace(report.Text)
	if report.Text == "" {
		return nil, domain.ErrEmptyMessage
	}
	if err := validation.ValidateMessageText(report.Text, s.maxTextLen); err != nil {
		return nil, err
	}
	if err := validation.ValidateUsername(report.Member); err != nil {
		return nil, err
	}

	report.ID = s.newID()
	report.ReportedBy = actor
	report.Timestamp = s.now().UnixMilli()
	if err := s.reports.Append(ctx, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// VisibleReports returns every report for super admins, the reports of
// administered groups for group admins and nothing for anyone else.
func (s *reportService) VisibleReports(ctx context.Context, username string) ([]*domain.Report, error) {
	user, err := resolveUser(ctx, s.users, username)
	if err != nil {
		return nil, err
	}
	all, err := s.reports.List(ctx)
	if err != nil {
		return nil, err
	}
	if user.IsSuperAdmin() {
		return all, nil
	}

	groups, err := s.groups.List(ctx)
	if err != nil {
		return nil, err
	}
	administered := make(map[string]bool)
	for _, g := range groups {
		if g.IsAdmin(username) {
			administered[g.ID] = true
		}
	}

	visible := []*domain.Report{}
	for _, r := range all {
		if administered[r.GroupID] {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

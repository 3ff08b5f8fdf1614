package authz

// PermissionSet maps every known capability flag to whether the holder is
// granted it. Derive always returns the full map, so consumers can index
// without existence checks.
type PermissionSet map[string]bool

// Capability flags, grouped by the lowest tier that grants them.
const (
	// Client tier: every authenticated user.
	PermEventsBrowse      = "events.browse"
	PermEventsViewDetail  = "events.view_detail"
	PermEventsRate        = "events.rate"
	PermBookingsCreate    = "bookings.create"
	PermBookingsViewOwn   = "bookings.view_own"
	PermBookingsCancelOwn = "bookings.cancel_own"
	PermMessagesSend      = "messages.send"
	PermMessagesViewOwn   = "messages.view_own"
	PermWalletView        = "wallet.view"
	PermWalletDeposit     = "wallet.deposit"
	PermProfileView       = "profile.view"
	PermProfileEdit       = "profile.edit"
	PermMediaUploadOwn    = "media.upload_own"
	PermVenueViewInfo     = "venue.view_info"
	PermFeedView          = "feed.view"

	// Employee tier.
	PermBookingsViewAll     = "bookings.view_all"
	PermBookingsUpdate      = "bookings.update_status"
	PermGuestsCheckIn       = "guests.check_in"
	PermTicketsScan         = "tickets.scan"
	PermScheduleView        = "schedule.view"
	PermInventoryManage     = "inventory.manage"
	PermMessagesRespond     = "messages.respond"
	PermCustomersView       = "customers.view"
	PermEventNotesCreate    = "event_notes.create"
	PermDailyReportsView    = "reports.view_daily"

	// Admin tier.
	PermEventsCreate       = "events.create"
	PermEventsEdit         = "events.edit"
	PermEventsCancel       = "events.cancel"
	PermEventsSetPricing   = "events.set_pricing"
	PermRevenueView        = "reports.view_revenue"
	PermEmployeesManage    = "employees.manage"
	PermWalletsViewAll     = "wallets.view_all"
	PermRefundsIssue       = "refunds.issue"
	PermAnnouncementsSend  = "announcements.send"
	PermContentModerate    = "content.moderate"

	// Master-admin tier.
	PermAdminsManage    = "admins.manage"
	PermRolesAssign     = "roles.assign"
	PermRolesRevoke     = "roles.revoke"
	PermAccountsDisable = "accounts.disable"
	PermAuditView       = "audit.view"
)

var permissionTiers = map[string]Role{
	PermEventsBrowse:      RoleClient,
	PermEventsViewDetail:  RoleClient,
	PermEventsRate:        RoleClient,
	PermBookingsCreate:    RoleClient,
	PermBookingsViewOwn:   RoleClient,
	PermBookingsCancelOwn: RoleClient,
	PermMessagesSend:      RoleClient,
	PermMessagesViewOwn:   RoleClient,
	PermWalletView:        RoleClient,
	PermWalletDeposit:     RoleClient,
	PermProfileView:       RoleClient,
	PermProfileEdit:       RoleClient,
	PermMediaUploadOwn:    RoleClient,
	PermVenueViewInfo:     RoleClient,
	PermFeedView:          RoleClient,

	PermBookingsViewAll:  RoleEmployee,
	PermBookingsUpdate:   RoleEmployee,
	PermGuestsCheckIn:    RoleEmployee,
	PermTicketsScan:      RoleEmployee,
	PermScheduleView:     RoleEmployee,
	PermInventoryManage:  RoleEmployee,
	PermMessagesRespond:  RoleEmployee,
	PermCustomersView:    RoleEmployee,
	PermEventNotesCreate: RoleEmployee,
	PermDailyReportsView: RoleEmployee,

	PermEventsCreate:      RoleAdmin,
	PermEventsEdit:        RoleAdmin,
	PermEventsCancel:      RoleAdmin,
	PermEventsSetPricing:  RoleAdmin,
	PermRevenueView:       RoleAdmin,
	PermEmployeesManage:   RoleAdmin,
	PermWalletsViewAll:    RoleAdmin,
	PermRefundsIssue:      RoleAdmin,
	PermAnnouncementsSend: RoleAdmin,
	PermContentModerate:   RoleAdmin,

	PermAdminsManage:    RoleMasterAdmin,
	PermRolesAssign:     RoleMasterAdmin,
	PermRolesRevoke:     RoleMasterAdmin,
	PermAccountsDisable: RoleMasterAdmin,
	PermAuditView:       RoleMasterAdmin,
}

// PermissionNames returns every known capability flag.
func PermissionNames() []string {
	names := make([]string, 0, len(permissionTiers))
	for name := range permissionTiers {
		names = append(names, name)
	}
	return names
}

// PermissionTier returns the lowest role tier that grants the named
// capability, and whether the capability is known.
func PermissionTier(name string) (Role, bool) {
	tier, ok := permissionTiers[name]
	return tier, ok
}

// Derive computes the full permission set for a role. A capability is granted
// iff the role sits at or above the capability's tier. Overrides are merged
// last and always win; unknown override names are carried through so a
// deployment can gate custom capabilities without a code change.
func Derive(role Role, overrides map[string]bool) PermissionSet {
	set := make(PermissionSet, len(permissionTiers)+len(overrides))
	for name, tier := range permissionTiers {
		set[name] = role.AtLeast(tier)
	}
	for name, allowed := range overrides {
		set[name] = allowed
	}
	return set
}

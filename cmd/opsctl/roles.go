package main

import (
	"fmt"

	"merchantops/internal/service"

	"github.com/spf13/cobra"
)

var (
	seedRolesCmd = &cobra.Command{
		Use:   "seed-roles",
		Short: "Create the capability catalogue and built-in roles",
		Args:  cobra.NoArgs,
		RunE:  seedRoles,
	}

	rolesCmd = &cobra.Command{
		Use:   "roles",
		Short: "Inspect and edit role grants",
	}

	rolesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List roles with their capabilities",
		Args:  cobra.NoArgs,
		RunE:  listRoles,
	}

	rolesGrantCmd = &cobra.Command{
		Use:   "grant [role] [capability...]",
		Short: "Replace the capabilities granted to a role",
		Args:  cobra.MinimumNArgs(2),
		RunE:  grantRole,
	}

	membersCmd = &cobra.Command{
		Use:   "members",
		Short: "Manage tenant memberships",
	}

	membersAssignCmd = &cobra.Command{
		Use:   "assign",
		Short: "Assign a user to a role within a tenant",
		Args:  cobra.NoArgs,
		RunE:  assignMember,
	}

	memberTenant string
	memberUser   string
	memberRole   string
	memberName   string
)

func init() {
	rolesCmd.AddCommand(rolesListCmd)
	rolesCmd.AddCommand(rolesGrantCmd)

	membersAssignCmd.Flags().StringVar(&memberTenant, "tenant", "", "Tenant ID (required)")
	membersAssignCmd.Flags().StringVar(&memberUser, "user", "", "User ID (required)")
	membersAssignCmd.Flags().StringVar(&memberRole, "role", "", "Role name (required)")
	membersAssignCmd.Flags().StringVar(&memberName, "name", "", "Display name")
	_ = membersAssignCmd.MarkFlagRequired("tenant")
	_ = membersAssignCmd.MarkFlagRequired("user")
	_ = membersAssignCmd.MarkFlagRequired("role")
	membersCmd.AddCommand(membersAssignCmd)
}

func seedRoles(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	if err := a.Roles.SeedDefaultRolesAndPermissions(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "roles seeded")
	return nil
}

func listRoles(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	roles, err := a.Roles.ListRoles(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, roles)
}

func grantRole(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	role, err := a.Roles.UpdateRolePermissions(cmd.Context(), args[0], service.UpdateRolePermissionsRequest{
		PermissionCodes: args[1:],
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, role)
}

func assignMember(cmd *cobra.Command, args []string) error {
	tenantID, err := parseID("tenant", memberTenant)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	member, err := a.Roles.AssignMember(cmd.Context(), tenantID, service.AssignMemberRequest{
		UserID:      memberUser,
		Role:        memberRole,
		DisplayName: memberName,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, member)
}

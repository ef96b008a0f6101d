package core

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Employee is the directory projection of a principal (no credentials, no roles).
type Employee struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// EmployeeDirectory answers employee lookups for the leave workflow.
type EmployeeDirectory struct {
	store        CredentialStore
	employeeRole string
}

func NewEmployeeDirectory(store CredentialStore, employeeRole string) *EmployeeDirectory {
	return &EmployeeDirectory{store: store, employeeRole: employeeRole}
}

// GetEmployee returns the principal with id, or ErrPrincipalNotFound.
func (d *EmployeeDirectory) GetEmployee(ctx context.Context, id string) (Employee, error) {
	p, err := d.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Employee{}, err
		}
		return Employee{}, oops.Code("EMPLOYEE_LOOKUP_FAILED").With("id", id).Wrap(err)
	}
	return employeeFrom(*p), nil
}

// GetEmployees lists every active principal holding the employee role.
func (d *EmployeeDirectory) GetEmployees(ctx context.Context) ([]Employee, error) {
	ps, err := d.store.ListInRole(ctx, d.employeeRole)
	if err != nil {
		return nil, oops.Code("EMPLOYEE_LIST_FAILED").With("role", d.employeeRole).Wrap(err)
	}
	out := make([]Employee, 0, len(ps))
	for _, p := range ps {
		out = append(out, employeeFrom(p))
	}
	return out, nil
}

func employeeFrom(p Principal) Employee {
	return Employee{ID: p.ID, Email: p.Email, FirstName: p.FirstName, LastName: p.LastName}
}

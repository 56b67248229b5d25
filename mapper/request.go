package mapper

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("metaname", validateMetaName)
}

// validateMetaName rejects names that cannot be embedded in a metadata key
// or a request path.
func validateMetaName(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if strings.TrimSpace(value) != value {
		return false
	}
	return !strings.ContainsAny(value, "/\\?#%")
}

// Credentials are the vCD provider credentials used to open a session in the
// System organization.
type Credentials struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

type AddRequest struct {
	Credentials        Credentials
	EndpointName       string `validate:"required,metaname"`
	VcdTenant          string `validate:"required"`
	CohesityTenant     string `validate:"required"`
	CohesityUsername   string `validate:"required"`
	CohesityPassword   string `validate:"required"`
	CohesityDomain     string `validate:"required"`
	EncryptionPassword string `validate:"required"`
}

type RemoveRequest struct {
	Credentials        Credentials
	EndpointName       string `validate:"required,metaname"`
	VcdTenant          string `validate:"required"`
	EncryptionPassword string `validate:"required"`
}

type ListRequest struct {
	Credentials        Credentials
	EndpointName       string `validate:"required,metaname"`
	EncryptionPassword string `validate:"required"`
}

// ListAllRequest lists mapped tenants across every endpoint.
type ListAllRequest struct {
	Credentials        Credentials
	EncryptionPassword string `validate:"required"`
}

func validateRequest(req any) error {
	if err := requestValidate.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

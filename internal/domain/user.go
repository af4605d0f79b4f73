package domain

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

type Address struct {
	AddressID      int64  `json:"addressId"`
	Street         string `json:"street"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
	City           string `json:"city"`
	Country        string `json:"country"`
	PostalCode     string `json:"postalCode"`
	HouseNumber    string `json:"houseNumber"`
}

type User struct {
	UserID       string    `json:"userId"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	MobileNumber string    `json:"mobileNumber,omitempty"`
	Roles        []Role    `json:"roles"`
	Addresses    []Address `json:"addresses"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type RegisterRequest struct {
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	Addresses []Address `json:"addresses,omitempty"`
}

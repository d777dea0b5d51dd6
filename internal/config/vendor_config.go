package config

const (
	authDomainVar     = "AUTH_DOMAIN"
	redirectSchemeVar = "REDIRECT_SCHEME"
	issuerURLVar      = "ISSUER_URL"
	clientIDVar       = "CLIENT_ID"
)

type Vendor struct{}

var _ VendorConfig = Vendor{}

func (Vendor) GetAuthDomain() string {
	return GetEnv(authDomainVar, "auth.vendorcloud.com")
}

func (Vendor) GetRedirectScheme() string {
	return GetEnv(redirectSchemeVar, "vendorapp")
}

func (Vendor) GetIssuerURL() string {
	return GetEnv(issuerURLVar, "https://auth.vendorcloud.com")
}

func (Vendor) GetClientID() string {
	return GetEnv(clientIDVar, "mobile-app")
}

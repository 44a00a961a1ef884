package wggesucht

// Search results.
var (
	cardSelectors = []string{
		"div.wgg_card.offer_list_item",
		"div.offer_list_item",
		"div[id^='liste-details-ad-']",
	}
	emptyResultSelectors = []string{
		"#no_results",
		".no_results",
		".noresults",
		"div.panel-no-results",
	}
	emptyResultPhrases = []string{
		"keine angebote gefunden",
		"keine anzeigen gefunden",
		"leider keine ergebnisse",
	}
	requestLabelSelector = ".request_label, .label_gesuch"
)

// Detail page.
const (
	mainColumnSelector = "#main_column"
	hydratedSelector   = "#main_column h1, #main_column .headline-detailed-view-title"
)

// Removed or deactivated listings.
var (
	goneSelectors = []string{
		"#deactivated_ad",
		".deactivated_offer",
		".alert-deactivated",
	}
	goneTextSelectors = "title, h1, .alert, .alert-danger, .alert-warning"
	gonePhrases       = []string{
		"seite nicht gefunden",
		"anzeige ist nicht mehr verfügbar",
		"anzeige ist nicht mehr aktiv",
		"anzeige wurde deaktiviert",
		"anzeige ist deaktiviert",
		"anzeige wurde gelöscht",
	}
)

// Login modal.
const (
	loginOpenSelector     = "a[data-target='#login_modal'], a.login_button, #login_button"
	loginEmailSelector    = "#login_email_username"
	loginPasswordSelector = "#login_password"
	loginSubmitSelector   = "#login_submit"
	loginErrorSelector    = "#login_modal .alert-danger, #login_error"
	loggedInSelector      = "a[href*='logout'], .logout_button, #user_menu"
)

// Contact reveal.
var (
	revealSelectors = []string{
		"#show_phone_numbers",
		".show_phone_numbers",
		"a[onclick*='phone']",
	}
	inlineLoginSelectors = []string{
		".phone_login_required",
		"#phone_login_prompt",
		".contact_login_prompt",
	}
)

const contactPanelSelector = "#phone_numbers, .phone_numbers, .contact_details_phone"

package models

// Unavailable marks a field the page did not provide.
const Unavailable = "N/A"

var CompanyInfoColumns = []string{
	"URL", "Name", "Industry", "Location", "Size", "Website",
	"Specialties", "Employees", "People per location", "Status",
}

type CompanyInfo struct {
	URL               string
	Name              string
	Industry          string
	Location          string
	Size              string
	Website           string
	Specialties       string
	Employees         string
	PeoplePerLocation string
	Status            string
}

// NewCompanyInfo returns a record with every data field set to the
// placeholder. peopleEnabled controls whether the optional location
// breakdown is a placeholder or an explicit empty value.
func NewCompanyInfo(url string, peopleEnabled bool) CompanyInfo {
	people := ""
	if peopleEnabled {
		people = Unavailable
	}
	return CompanyInfo{
		URL:               url,
		Name:              Unavailable,
		Industry:          Unavailable,
		Location:          Unavailable,
		Size:              Unavailable,
		Website:           Unavailable,
		Specialties:       Unavailable,
		Employees:         Unavailable,
		PeoplePerLocation: people,
	}
}

func (c CompanyInfo) Row() []string {
	return []string{
		c.URL, c.Name, c.Industry, c.Location, c.Size, c.Website,
		c.Specialties, c.Employees, c.PeoplePerLocation, c.Status,
	}
}

var JobRecordColumns = []string{
	"Company URL", "Company Name", "Job URL", "Title", "Description",
	"Location", "Posted At", "Number of Applicants", "Status",
}

type JobRecord struct {
	CompanyName        string
	URL                string
	Title              string
	Description        string
	Location           string
	PostedAt           string
	NumberOfApplicants string
}

func (j JobRecord) Row(companyURL, status string) []string {
	return []string{
		companyURL, j.CompanyName, j.URL, j.Title, j.Description,
		j.Location, j.PostedAt, j.NumberOfApplicants, status,
	}
}

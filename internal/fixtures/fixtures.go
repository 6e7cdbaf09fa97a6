// Package fixtures 提供种子简历：三条固定记录和按种子确定的合成记录
package fixtures

import (
	"fmt"
	"math/rand"
	"strings"

	"talent-search/internal/types"
)

// Canonical 三条固定简历，端到端测试和 seed 命令都依赖它们
func Canonical() []types.ResumeRecord {
	return []types.ResumeRecord{
		{
			ID:        "dev-001",
			Name:      "Alice Anderson",
			Contact:   types.Contact{Email: "alice.anderson@example.com", Phone: "(123) 555-0001"},
			JobTitle:  "Backend Engineer",
			Industry:  "Tech",
			Level:     "Senior",
			Skills:    []string{"Python", "AWS", "Backend Development", "DevOps"},
			ResumeURL: "https://resumes.example.com/dev-001.pdf",
			RawText: "Name: Alice Anderson\nEmail: alice.anderson@example.com | Phone: (123) 555-0001\n\n" +
				"**Summary:** Senior backend engineer with 9 years in the Tech industry. Builds Python services on AWS " +
				"(Lambda, ECS, RDS) and owns their CI/CD pipelines.\n\n" +
				"**Experience:**\n**Acme Corp** - Backend Engineer (6 years)\n" +
				"  - Led the migration of the billing platform to AWS, cutting latency by 35%.\n" +
				"  - Mentored four engineers on Python service design.\n",
		},
		{
			ID:        "dev-002",
			Name:      "Bob Bannon",
			Contact:   types.Contact{Email: "bob.bannon@example.com", Phone: "(123) 555-0002"},
			JobTitle:  "Software Engineer",
			Industry:  "SaaS",
			Level:     "Mid",
			Skills:    []string{"Java", "SQL", "GCP"},
			ResumeURL: "https://resumes.example.com/dev-002.pdf",
			RawText: "Name: Bob Bannon\nEmail: bob.bannon@example.com | Phone: (123) 555-0002\n\n" +
				"**Summary:** Mid-level software engineer with 4 years in SaaS. Writes Java microservices backed by " +
				"PostgreSQL on GCP.\n\n" +
				"**Experience:**\n**Global Innovations** - Software Engineer (4 years)\n" +
				"  - Contributed to 5 product releases of a multi-tenant CRM.\n",
		},
		{
			ID:        "dev-003",
			Name:      "Charlie Clark",
			Contact:   types.Contact{Email: "charlie.clark@example.com", Phone: "(123) 555-0003"},
			JobTitle:  "Frontend Developer",
			Industry:  "E-commerce",
			Level:     "Junior",
			Skills:    []string{"Frontend Development", "UI/UX Design"},
			ResumeURL: "https://resumes.example.com/dev-003.pdf",
			RawText: "Name: Charlie Clark\nEmail: charlie.clark@example.com | Phone: (123) 555-0003\n\n" +
				"**Summary:** Junior frontend developer with 2 years in E-commerce, focused on React storefronts " +
				"and checkout UX.\n",
		},
	}
}

var (
	skillsList = []string{
		"Python", "Java", "SQL", "AWS", "Azure", "GCP", "Machine Learning", "Data Analysis",
		"Project Management", "Marketing Strategy", "Sales Leadership", "Financial Modeling",
		"HR Management", "Product Management", "UI/UX Design", "Backend Development",
		"Frontend Development", "DevOps", "Cybersecurity", "Blockchain", "Salesforce CRM", "SAP ERP",
	}
	rolesList = []string{
		"Software Engineer", "Data Scientist", "Product Manager", "Marketing Manager", "Sales Executive",
		"HR Business Partner", "Financial Analyst", "UX Designer", "DevOps Engineer", "Business Analyst",
		"Technical Lead", "Director of Engineering", "VP of Sales",
	}
	industriesList = []string{"Tech", "Finance", "Healthcare", "Retail", "SaaS", "Biotech", "Manufacturing", "E-commerce", "Consulting", "Automotive"}
	levelsList     = []string{"Junior", "Mid", "Senior", "Lead", "Manager", "Director", "VP"}
	degreesList    = []string{"Computer Science", "Business Administration", "Marketing", "Finance", "Engineering"}
)

// Generate 生成 n 条合成简历。同一 seed 得到同样的记录（包括 id），重复 seed 不会产生重复数据
func Generate(n int, seed int64) []types.ResumeRecord {
	rng := rand.New(rand.NewSource(seed))
	out := make([]types.ResumeRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, generateOne(rng, i))
	}
	return out
}

func generateOne(rng *rand.Rand, i int) types.ResumeRecord {
	pick := func(list []string) string { return list[rng.Intn(len(list))] }

	name := fmt.Sprintf("Candidate %d", i+1)
	role := pick(rolesList)
	industry := pick(industriesList)
	level := pick(levelsList)
	years := 2 + rng.Intn(14)

	perm := rng.Perm(len(skillsList))
	skills := make([]string, 3+rng.Intn(6))
	for j := range skills {
		skills[j] = skillsList[perm[j]]
	}

	var track string
	switch {
	case strings.Contains(role, "Sales"):
		track = "driving revenue growth"
	case strings.Contains(role, "Engineer"):
		track = "building scalable systems"
	case strings.Contains(role, "Manager"):
		track = "leading cross-functional teams"
	default:
		track = "analyzing complex data"
	}

	email := fmt.Sprintf("candidate.%d@example.com", i+1)
	phone := fmt.Sprintf("(123) 555-%04d", i)
	joined := strings.Join(skills, ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nEmail: %s | Phone: %s\n\n", name, email, phone)
	fmt.Fprintf(&b, "**Summary:** A results-oriented and experienced %s %s with %d years in the %s industry. ", level, role, years, industry)
	fmt.Fprintf(&b, "Skilled in %s. Adept at %s.\n\n", joined, track)
	b.WriteString("**Experience:**\n")
	fmt.Fprintf(&b, "**Acme Corp** - %s (%d years)\n", role, 1+rng.Intn(years-1))
	fmt.Fprintf(&b, "  - Led %d major projects, improving efficiency by %d%%.\n", 1+rng.Intn(3), 10+rng.Intn(31))
	fmt.Fprintf(&b, "  - Developed and deployed features using %s.\n", skills[rng.Intn(len(skills))])
	fmt.Fprintf(&b, "**Education:** Bachelor's Degree in %s.\n", pick(degreesList))

	return types.ResumeRecord{
		ID:        fmt.Sprintf("gen-%04d", i+1),
		Name:      name,
		Contact:   types.Contact{Email: email, Phone: phone},
		JobTitle:  role,
		Industry:  industry,
		Level:     level,
		Skills:    skills,
		ResumeURL: fmt.Sprintf("https://resumes.example.com/gen-%04d.pdf", i+1),
		RawText:   b.String(),
	}
}

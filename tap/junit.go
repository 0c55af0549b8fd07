package tap

import (
	"encoding/xml"
	"fmt"
	"os"
)

type junitSuite struct {
	XMLName   xml.Name    `xml:"testsuite"`
	Failures  int         `xml:"failures,attr"`
	Tests     int         `xml:"tests,attr"`
	Time      string      `xml:"time,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	Cases     []junitCase `xml:"testcase"`
}

type junitCase struct {
	ClassName string      `xml:"classname,attr"`
	Name      string      `xml:"name,attr"`
	Time      string      `xml:"time,attr"`
	Error     *junitError `xml:"error,omitempty"`
}

type junitError struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

func (s *junitSuite) writeFile(path string) error {
	data, err := xml.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JUnit report: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write JUnit report: %w", err)
	}
	return nil
}
